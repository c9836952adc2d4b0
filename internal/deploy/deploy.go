package deploy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/gabstv/go-bsdiff/pkg/bspatch"

	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/logging"
	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
)

// ErrDeltaMismatch is wrapped into the error returned when a patched file
// does not match its declared checksum. The installed file is left alone
// and the caller may retry with a full download.
var ErrDeltaMismatch = errors.New("patched content does not match the declared checksum")

// Request describes one staged artifact to deploy.
type Request struct {
	Policy manifest.Policy
	// Root is the installation root the policy's paths live under.
	Root       string
	StagedPath string
	// SignaturePath is the staged detached signature for signed groups.
	SignaturePath string
	// Delta marks StagedPath as a bsdiff patch against the current file.
	Delta bool
}

// Deployer writes staged artifacts into place.
type Deployer struct {
	Keyring openpgp.EntityList
	Logger  logging.Logger
}

// New creates a Deployer. A nil logger discards output.
func New(keyring openpgp.EntityList, logger logging.Logger) *Deployer {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Deployer{Keyring: keyring, Logger: logger}
}

// Deploy writes req into the tree and returns the identity of every path
// it placed on disk. A preserved file that already exists is reported but
// not touched.
func (d *Deployer) Deploy(req Request) ([]string, error) {
	p := req.Policy
	fail := func(err error, msg string) error {
		return uerrors.Wrap(err, uerrors.ErrDeploy, msg).WithPath(p.Identity).WithStep("deploy")
	}

	if p.Kind != manifest.KindArchive && p.Preserve && exists(p.Dest) {
		d.Logger.Debug("keeping user-editable file", "file", p.Identity)
		return []string{p.Identity}, nil
	}
	if p.Signed && req.SignaturePath == "" {
		return nil, uerrors.New(uerrors.ErrVerification, "no signature was downloaded").
			WithPath(p.Identity).WithStep("deploy")
	}

	tmpDir := filepath.Dir(p.Dest)
	if p.Kind == manifest.KindArchive {
		tmpDir = filepath.Dir(req.StagedPath)
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fail(err, "create parent directory")
	}

	tmp, err := materialize(req, tmpDir)
	if err != nil {
		return nil, fail(err, "decode staged file")
	}
	defer os.Remove(tmp)

	if err := checkContent(p, tmp); err != nil {
		if req.Delta {
			err = fmt.Errorf("%w: %v", ErrDeltaMismatch, err)
		}
		return nil, uerrors.Wrap(err, uerrors.ErrVerification, "content check failed").
			WithPath(p.Identity).WithStep("deploy")
	}

	if p.Signed {
		if err := verifySignature(d.Keyring, tmp, req.SignaturePath); err != nil {
			return nil, uerrors.Wrapf(err, uerrors.ErrVerification,
				"the digital signature of %s could not be verified", p.Identity).
				WithPath(p.Identity).WithStep("deploy")
		}
	}

	if p.Kind == manifest.KindArchive {
		return d.extract(req, tmp)
	}

	perm := os.FileMode(0644)
	if info, err := os.Stat(p.Dest); err == nil {
		perm = info.Mode().Perm()
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return nil, fail(err, "set permissions")
	}
	if err := os.Rename(tmp, p.Dest); err != nil {
		return nil, fail(err, "install file")
	}
	d.Logger.Debug("installed file", "file", p.Identity)
	return []string{p.Identity}, nil
}

func (d *Deployer) extract(req Request, tmp string) ([]string, error) {
	p := req.Policy
	f, err := os.Open(tmp)
	if err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrDeploy, "open archive").WithPath(p.Identity).WithStep("deploy")
	}
	defer f.Close()

	written, err := extractTar(f, p.Dest, p.Preserve)
	if err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrDeploy, "extract archive").WithPath(p.Identity).WithStep("deploy")
	}

	ids := make([]string, 0, len(written))
	for _, w := range written {
		id, err := manifest.Identity(req.Root, w)
		if err != nil {
			return nil, uerrors.Wrap(err, uerrors.ErrDeploy, "archive entry").WithPath(p.Identity).WithStep("deploy")
		}
		ids = append(ids, id)
	}
	d.Logger.Debug("extracted archive", "file", p.Identity, "entries", len(ids))
	return ids, nil
}

// checkContent compares the decoded file at path against the policy's
// declared checksum.
func checkContent(p manifest.Policy, path string) error {
	if p.Checksum == "" {
		return nil
	}
	got, err := digest.File(path, p.ChecksumAlg)
	if err != nil {
		return err
	}
	if !digest.Match(p.Checksum, got) {
		return fmt.Errorf("%s checksum mismatch; expected %s, got %s", p.ChecksumAlg, p.Checksum, got)
	}
	return nil
}

// materialize writes the decoded content of the staged artifact into a
// temporary file in dir and returns its path.
func materialize(req Request, dir string) (string, error) {
	var src io.Reader
	if req.Delta {
		old, err := os.ReadFile(req.Policy.Dest)
		if err != nil {
			return "", fmt.Errorf("read delta base: %w", err)
		}
		patch, err := os.ReadFile(req.StagedPath)
		if err != nil {
			return "", fmt.Errorf("read patch: %w", err)
		}
		patched, err := bspatch.Bytes(old, patch)
		if err != nil {
			return "", fmt.Errorf("apply patch: %w", err)
		}
		src = bytes.NewReader(patched)
	} else {
		staged, err := os.Open(req.StagedPath)
		if err != nil {
			return "", fmt.Errorf("open staged file: %w", err)
		}
		defer staged.Close()

		rc, err := decoder(staged, req.Policy.Compression)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		src = rc
	}

	tmp, err := os.CreateTemp(dir, ".packsync-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// writeFileAtomic streams r into path through a temporary sibling.
func writeFileAtomic(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".packsync-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("copy contents: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanupNeeded = false
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
