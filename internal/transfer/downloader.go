package transfer

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/ZebulonRouseFrantzich/packsync/internal/clock"
	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/logging"
	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
)

const (
	// DefaultTries is the number of attempts made for one file.
	DefaultTries = 5
	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = 2000 * time.Millisecond

	// DeltaSuffix is appended to a file URL to address its bsdiff patch.
	DeltaSuffix = ".bsdiff"
	// SignatureSuffix is appended to a file URL to address its detached
	// OpenPGP signature.
	SignatureSuffix = ".sig"
)

// Skip reasons reported in Outcome.SkipReason.
const (
	SkipVersion     = "version"
	SkipNotModified = "not_modified"
)

// Request describes one file to bring into the staging area.
type Request struct {
	Policy manifest.Policy
	// LastMarker is the version marker the cache holds for the file.
	LastMarker string
	HasLast    bool
	// Forced disables every shortcut; digests are still verified.
	Forced bool
	// OnAttempt is called before each network attempt, starting at 1.
	OnAttempt func(attempt int)
	Progress  ProgressFunc
}

// Outcome is the result of a Download.
type Outcome struct {
	// Skipped means the installed file is already current and must not be
	// rewritten.
	Skipped    bool
	SkipReason string
	// StagedPath is the completed artifact: the file itself, or its patch
	// when Delta is set.
	StagedPath    string
	SignaturePath string
	Delta         bool
	// Fetched is false when a complete staged file was reused.
	Fetched bool
	Bytes   int64
	// Marker is the version marker to record for the file. Empty clears it.
	Marker string
}

// Downloader brings files into staging with retry and verification.
type Downloader struct {
	Fetcher    Fetcher
	Staging    *Staging
	Tries      int
	RetryDelay time.Duration
	Clock      clock.Clock
	Logger     logging.Logger
}

// NewDownloader returns a Downloader with the default retry policy.
func NewDownloader(fetcher Fetcher, staging *Staging) *Downloader {
	return &Downloader{
		Fetcher:    fetcher,
		Staging:    staging,
		Tries:      DefaultTries,
		RetryDelay: DefaultRetryDelay,
		Clock:      clock.Real{},
		Logger:     logging.Noop(),
	}
}

// Download applies the skip policy to req and otherwise fetches the file
// into staging, verifying its digest before it is promoted.
func (d *Downloader) Download(ctx context.Context, req Request) (Outcome, error) {
	p := req.Policy
	if err := checkCancelled(ctx); err != nil {
		return Outcome{}, err
	}

	if !req.Forced && p.Version != "" && req.HasLast && req.LastMarker == p.Version {
		d.Logger.Debug("version unchanged, skipping", "file", p.Identity, "version", p.Version)
		return Outcome{Skipped: true, SkipReason: SkipVersion}, nil
	}

	url := p.URL
	delta := false
	if !req.Forced && p.DeltaFrom != "" && req.HasLast && req.LastMarker == p.DeltaFrom && regularFile(p.Dest) {
		url = p.URL + DeltaSuffix
		delta = true
	}

	opts := FetchOptions{Digest: p.Digest, Progress: req.Progress}
	if !req.Forced && p.Version == "" && p.HasDigest() && req.HasLast {
		opts.PriorETag = req.LastMarker
	}

	key := StageKey(url, p.Version)
	out := Outcome{Delta: delta, StagedPath: d.Staging.FinalPath(key)}

	if !req.Forced && !p.HasDigest() && d.Staging.HasFinal(key) {
		d.Logger.Info("found file already downloaded", "file", p.Identity, "staged", out.StagedPath)
	} else {
		res, err := d.fetch(ctx, p.Identity, url, key, opts, req.OnAttempt)
		if err != nil {
			return Outcome{}, err
		}
		if res.NotModified {
			d.Logger.Debug("entity tag unchanged, skipping", "file", p.Identity, "etag", res.ETag)
			return Outcome{Skipped: true, SkipReason: SkipNotModified}, nil
		}
		out.Fetched = true
		out.Bytes = res.Bytes
		out.Marker = NextMarker(p, res.Digest, req.LastMarker, req.HasLast)
	}
	if !out.Fetched {
		out.Marker = NextMarker(p, "", req.LastMarker, req.HasLast)
	}

	if p.Signed {
		sigURL := p.URL + SignatureSuffix
		sigKey := StageKey(sigURL, p.Version)
		if req.Forced || !d.Staging.HasFinal(sigKey) {
			if _, err := d.fetch(ctx, p.Identity, sigURL, sigKey, FetchOptions{}, nil); err != nil {
				return Outcome{}, err
			}
		}
		out.SignaturePath = d.Staging.FinalPath(sigKey)
	}
	return out, nil
}

// StageKey names the staged copy of url. Files with an explicit version
// are staged per version so a copy left by an older pass is never reused.
func StageKey(url, version string) string {
	if version == "" {
		return url
	}
	return url + "#" + version
}

// fetch runs the retry loop for one URL, staged under key, and promotes the
// verified result.
func (d *Downloader) fetch(ctx context.Context, identity, url, key string, opts FetchOptions, onAttempt func(int)) (Result, error) {
	if err := d.Staging.Ensure(); err != nil {
		return Result{}, uerrors.Wrap(err, uerrors.ErrTransport, "prepare staging").WithPath(identity)
	}

	tries := d.Tries
	if tries <= 0 {
		tries = DefaultTries
	}
	inProgress := d.Staging.InProgressPath(key)

	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		if err := checkCancelled(ctx); err != nil {
			return Result{}, err
		}
		if attempt > 1 {
			select {
			case <-d.Clock.After(d.RetryDelay):
			case <-ctx.Done():
				return Result{}, uerrors.Wrap(ctx.Err(), uerrors.ErrCancelled, "download cancelled").WithPath(identity)
			}
		}
		if onAttempt != nil {
			onAttempt(attempt)
		}

		res, err := d.fetchOnce(ctx, url, inProgress, opts)
		if err == nil {
			if res.NotModified {
				os.Remove(inProgress)
				return res, nil
			}
			if err := verify(identity, url, opts, res); err != nil {
				os.Remove(inProgress)
				return Result{}, err
			}
			if err := d.Staging.promote(key); err != nil {
				os.Remove(inProgress)
				return Result{}, uerrors.Wrap(err, uerrors.ErrTransport, "stage download").WithPath(identity)
			}
			return res, nil
		}

		os.Remove(inProgress)
		if ctx.Err() != nil {
			return Result{}, uerrors.Wrap(ctx.Err(), uerrors.ErrCancelled, "download cancelled").WithPath(identity)
		}
		if !uerrors.IsRetryable(err) {
			return Result{}, err
		}
		lastErr = err
		d.Logger.Warn("download attempt failed", "file", identity, "url", url, "attempt", attempt, "error", err)
	}

	return Result{}, uerrors.Wrapf(lastErr, uerrors.ErrTransport,
		"download of %s failed after %d attempts", url, tries).WithPath(identity)
}

func (d *Downloader) fetchOnce(ctx context.Context, url, path string, opts FetchOptions) (Result, error) {
	f, err := os.Create(path)
	if err != nil {
		return Result{}, uerrors.Wrap(err, uerrors.ErrTransport, "create download file")
	}
	res, err := d.Fetcher.Fetch(ctx, url, f, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = uerrors.Wrap(cerr, uerrors.ErrTransport, "close download file")
	}
	var coded *uerrors.UpdateError
	if err != nil && !errors.As(err, &coded) {
		// Fetcher implementations report plain errors for network faults.
		err = uerrors.Wrapf(err, uerrors.ErrTransport, "fetch %s", url)
	}
	return res, err
}

// verify compares the computed digest against the tag reported by the
// server. Leading zeros and case are ignored.
func verify(identity, url string, opts FetchOptions, res Result) error {
	if opts.Digest == digest.None {
		return nil
	}
	if res.ETag == "" {
		return uerrors.Newf(uerrors.ErrVerification,
			"server reported no %s tag for %s", opts.Digest, url).WithPath(identity)
	}
	if !digest.Match(res.ETag, res.Digest) {
		return uerrors.Newf(uerrors.ErrVerification,
			"signature for %s did not match; expected %s, got %s", url, res.ETag, res.Digest).WithPath(identity)
	}
	return nil
}

// NextMarker computes the version marker to record after a file was
// fetched: the verified digest, overridden by an explicit version, and for
// preserved files the previous marker unchanged.
func NextMarker(p manifest.Policy, verifiedDigest, last string, hadLast bool) string {
	marker := ""
	if p.HasDigest() {
		marker = verifiedDigest
	}
	if p.Version != "" {
		marker = p.Version
	}
	if p.Preserve {
		marker = ""
		if hadLast {
			marker = last
		}
	}
	return marker
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return uerrors.Wrap(err, uerrors.ErrCancelled, "update cancelled")
	}
	return nil
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
