package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "packsync/1.0"
	// maxRedirects caps redirect chains
	maxRedirects = 10
)

// ProgressFunc receives the bytes written so far and the total if the
// server announced one, otherwise -1.
type ProgressFunc func(done, total int64)

// FetchOptions tune a single fetch.
type FetchOptions struct {
	// Digest is computed over the transferred bytes when set.
	Digest digest.Algorithm
	// PriorETag is sent as a conditional check. A server answering
	// "unchanged" yields a Result with NotModified set.
	PriorETag string
	Progress  ProgressFunc
}

// Result describes a completed fetch.
type Result struct {
	Bytes int64
	// ETag is the entity tag reported by the server, unquoted.
	ETag string
	// Digest is the hex digest of the transferred bytes, if requested.
	Digest      string
	NotModified bool
}

// Fetcher performs one network fetch into sink. Failures are transport
// errors and may be retried by the caller.
type Fetcher interface {
	Fetch(ctx context.Context, url string, sink io.Writer, opts FetchOptions) (Result, error)
}

// HTTPFetcher fetches over HTTP(S).
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher with the given request timeout and
// User-Agent. Zero values select the defaults.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, sink io.Writer, opts FetchOptions) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, uerrors.Wrap(err, uerrors.ErrTransport, "create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	if opts.PriorETag != "" {
		req.Header.Set("If-None-Match", quoteETag(opts.PriorETag))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, uerrors.Wrap(err, uerrors.ErrTransport, "execute request")
	}
	defer resp.Body.Close()

	etag := unquoteETag(resp.Header.Get("ETag"))

	if resp.StatusCode == http.StatusNotModified {
		return Result{ETag: etag, NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, uerrors.Newf(uerrors.ErrTransport, "unexpected status code: %d", resp.StatusCode)
	}
	// Servers that ignore If-None-Match still report the tag; an equal tag
	// means the content is the one already applied.
	if opts.PriorETag != "" && etag != "" && digest.Match(etag, opts.PriorETag) {
		return Result{ETag: etag, NotModified: true}, nil
	}

	return copyBody(resp.Body, sink, resp.ContentLength, etag, opts)
}

// copyBody streams body into sink, hashing and reporting progress.
func copyBody(body io.Reader, sink io.Writer, total int64, etag string, opts FetchOptions) (Result, error) {
	h := opts.Digest.New()
	w := sink
	if h != nil {
		w = io.MultiWriter(sink, h)
	}
	if opts.Progress != nil {
		w = &progressWriter{w: w, total: total, fn: opts.Progress}
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return Result{}, uerrors.Wrap(err, uerrors.ErrTransport, "copy response body")
	}

	res := Result{Bytes: n, ETag: etag}
	if h != nil {
		res.Digest = digest.Sum(h)
	}
	return res, nil
}

type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	p.fn(p.done, p.total)
	return n, err
}

func quoteETag(tag string) string {
	if strings.HasPrefix(tag, `"`) || strings.HasPrefix(tag, `W/"`) {
		return tag
	}
	return `"` + tag + `"`
}

func unquoteETag(tag string) string {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	return strings.Trim(tag, `"`)
}
