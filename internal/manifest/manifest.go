package manifest

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/platform"
)

var supportedVersion = regexp.MustCompile(SupportedVersionPattern)

// IsSupportedVersion reports whether this engine understands the manifest's
// format version.
func (m *Manifest) IsSupportedVersion() bool {
	return supportedVersion.MatchString(m.Version)
}

// Validate checks the manifest before any work is done. Every failure is a
// ManifestRejected error naming the offending entry.
func (m *Manifest) Validate() error {
	if !m.IsSupportedVersion() {
		return uerrors.Newf(uerrors.ErrManifestRejected,
			"unsupported manifest version %q", m.Version)
	}

	components := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if c.ID == "" {
			return uerrors.New(uerrors.ErrManifestRejected, "component without id")
		}
		if components[c.ID] {
			return uerrors.Newf(uerrors.ErrManifestRejected, "duplicate component %q", c.ID)
		}
		components[c.ID] = true
	}

	seen := make(map[string]string)
	for gi := range m.Groups {
		g := &m.Groups[gi]
		if _, err := digest.Parse(g.Digest); err != nil {
			return uerrors.Wrapf(err, uerrors.ErrManifestRejected, "group %d", gi)
		}
		if !knownCompression(g.Compression) {
			return uerrors.Newf(uerrors.ErrManifestRejected,
				"group %d: unknown compression %q", gi, g.Compression)
		}

		for fi := range g.Files {
			f := &g.Files[fi]
			if f.Path == "" {
				return uerrors.Newf(uerrors.ErrManifestRejected,
					"group %d file %d: empty path", gi, fi)
			}
			id, err := g.RelativeDest(f)
			if err != nil {
				return uerrors.Wrap(err, uerrors.ErrManifestRejected, "invalid destination").
					WithPath(f.Path)
			}
			if prev, dup := seen[id]; dup {
				return uerrors.Newf(uerrors.ErrManifestRejected,
					"destination %q declared by both %q and %q", id, prev, f.Path).WithPath(id)
			}
			seen[id] = f.Path

			switch f.Kind {
			case "", KindFile, KindArchive:
			default:
				return uerrors.Newf(uerrors.ErrManifestRejected, "unknown kind %q", f.Kind).WithPath(id)
			}
			switch f.Overwrite {
			case "", OverwriteAlways, OverwritePreserve:
			default:
				return uerrors.Newf(uerrors.ErrManifestRejected, "unknown overwrite mode %q", f.Overwrite).WithPath(id)
			}
			if f.DeltaFrom != "" && f.Version == "" {
				return uerrors.New(uerrors.ErrManifestRejected, "delta_from requires an explicit version").WithPath(id)
			}
			if f.DeltaFrom != "" && f.Kind == KindArchive {
				return uerrors.New(uerrors.ErrManifestRejected, "archives cannot be patched").WithPath(id)
			}
			if f.DeltaFrom != "" && f.Checksum == "" {
				return uerrors.New(uerrors.ErrManifestRejected, "delta_from requires a checksum of the patched file").WithPath(id)
			}
			for _, c := range f.Components {
				if !components[c] {
					return uerrors.Newf(uerrors.ErrManifestRejected, "unknown component %q", c).WithPath(id)
				}
			}
		}
	}

	for _, msg := range m.Messages {
		if !knownPhase(msg.Phase) {
			return uerrors.Newf(uerrors.ErrManifestRejected, "message %q: unknown phase %q", msg.ID, msg.Phase)
		}
		if msg.Once && msg.ID == "" {
			return uerrors.New(uerrors.ErrManifestRejected, "one-time message without id")
		}
	}
	return nil
}

func knownCompression(c Compression) bool {
	switch c {
	case "", CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4:
		return true
	}
	return false
}

func knownPhase(p Phase) bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// MessagesForPhase returns the messages of one phase in declaration order.
func (m *Manifest) MessagesForPhase(phase Phase) []Message {
	var out []Message
	for _, msg := range m.Messages {
		if msg.Phase == phase {
			out = append(out, msg)
		}
	}
	return out
}

// OptionalComponents returns the components a user may toggle.
func (m *Manifest) OptionalComponents() []Component {
	var out []Component
	for _, c := range m.Components {
		if !c.Required {
			out = append(out, c)
		}
	}
	return out
}

// DefaultSelection returns each optional component's default choice and
// marks required components selected.
func (m *Manifest) DefaultSelection() Selection {
	sel := make(Selection, len(m.Components))
	for _, c := range m.Components {
		sel[c.ID] = c.Required || c.Default
	}
	return sel
}

// MatchesEnvironment reports whether f applies to the host. A nil info
// matches everything.
func MatchesEnvironment(f *File, info *platform.Info) bool {
	if info == nil {
		return true
	}
	env := f.Environment
	return info.Matches(env.OS, env.Arch, env.Family)
}

// MatchesComponents reports whether f passes the component filter: files
// with no component list always pass, otherwise any selected component
// suffices. Required components count as selected whatever sel says.
func (m *Manifest) MatchesComponents(f *File, sel Selection) bool {
	if len(f.Components) == 0 {
		return true
	}
	for _, id := range f.Components {
		if sel[id] || m.isRequired(id) {
			return true
		}
	}
	return false
}

func (m *Manifest) isRequired(id string) bool {
	for _, c := range m.Components {
		if c.ID == id {
			return c.Required
		}
	}
	return false
}

// TotalSize is the sum of every declared file size.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, g := range m.Groups {
		for _, f := range g.Files {
			total += f.Size
		}
	}
	return total
}

// DownloadCount is the number of files the manifest declares.
func (m *Manifest) DownloadCount() int {
	n := 0
	for _, g := range m.Groups {
		n += len(g.Files)
	}
	return n
}

// Entries flattens the manifest in declaration order.
func (m *Manifest) Entries() []Entry {
	entries := make([]Entry, 0, m.DownloadCount())
	for gi := range m.Groups {
		g := &m.Groups[gi]
		for fi := range g.Files {
			entries = append(entries, Entry{Index: len(entries), Group: g, File: &g.Files[fi]})
		}
	}
	return entries
}

// URL returns the remote location of f: base, then the group's source
// prefix, then the file path.
func (g *FileGroup) URL(base *url.URL, f *File) string {
	return base.JoinPath(g.Source, f.Path).String()
}

// RelativeDest returns f's destination relative to the installation root,
// slash separated. It fails when the destination would escape the root.
func (g *FileGroup) RelativeDest(f *File) (string, error) {
	target := f.Target
	if target == "" {
		target = f.Path
	}
	joined := path.Join(filepath.ToSlash(g.Dest), filepath.ToSlash(target))
	return cleanRelative(joined)
}

// DestPath returns the absolute local destination of f below root.
func (g *FileGroup) DestPath(root string, f *File) (string, error) {
	rel, err := g.RelativeDest(f)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// Identity derives the identity of a local path: its slash-separated form
// relative to the installation root. The cache, the ledger and the
// orchestrator all key files by this value.
func Identity(root, dest string) (string, error) {
	rel, err := filepath.Rel(root, dest)
	if err != nil {
		return "", fmt.Errorf("path %s is not below %s: %w", dest, root, err)
	}
	return cleanRelative(filepath.ToSlash(rel))
}

func cleanRelative(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the installation root", p)
	}
	return cleaned, nil
}
