package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
)

// PackageServer is an in-memory package host. Every file is served with
// an entity tag equal to the digest of its content, and If-None-Match is
// honoured with 304 responses.
type PackageServer struct {
	*httptest.Server

	mu       sync.Mutex
	alg      digest.Algorithm
	files    map[string][]byte
	tags     map[string]string
	failures map[string]int
	requests map[string]int
	full     map[string]int
}

// NewPackageServer starts a server whose entity tags use alg. It is
// closed when the test ends.
func NewPackageServer(t *testing.T, alg digest.Algorithm) *PackageServer {
	t.Helper()
	s := &PackageServer{
		alg:      alg,
		files:    map[string][]byte{},
		tags:     map[string]string{},
		failures: map[string]int{},
		requests: map[string]int{},
		full:     map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Put publishes content at path, replacing any previous content.
func (s *PackageServer) Put(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = "/" + strings.TrimPrefix(path, "/")
	s.files[path] = content
	delete(s.tags, path)
}

// SetTag overrides the entity tag reported for path.
func (s *PackageServer) SetTag(path, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags["/"+strings.TrimPrefix(path, "/")] = tag
}

// Delete unpublishes path.
func (s *PackageServer) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, "/"+strings.TrimPrefix(path, "/"))
}

// FailNext makes the next n requests for path answer 503.
func (s *PackageServer) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures["/"+strings.TrimPrefix(path, "/")] = n
}

// Requests returns how many requests reached path.
func (s *PackageServer) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests["/"+strings.TrimPrefix(path, "/")]
}

// TotalRequests returns the number of requests across all paths.
func (s *PackageServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

// FullResponses returns how many requests for path were answered with a
// body.
func (s *PackageServer) FullResponses(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full["/"+strings.TrimPrefix(path, "/")]
}

// Tag returns the entity tag currently reported for path.
func (s *PackageServer) Tag(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagLocked("/" + strings.TrimPrefix(path, "/"))
}

func (s *PackageServer) tagLocked(path string) string {
	if tag, ok := s.tags[path]; ok {
		return tag
	}
	content, ok := s.files[path]
	if !ok || s.alg == digest.None {
		return ""
	}
	return digest.String(string(content), s.alg)
}

func (s *PackageServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	path := r.URL.Path
	s.requests[path]++
	if s.failures[path] > 0 {
		s.failures[path]--
		s.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	content, ok := s.files[path]
	tag := s.tagLocked(path)
	if ok && !(tag != "" && r.Header.Get("If-None-Match") == `"`+tag+`"`) {
		s.full[path]++
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if tag != "" {
		w.Header().Set("ETag", `"`+tag+`"`)
		if r.Header.Get("If-None-Match") == `"`+tag+`"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Write(content)
}
