// Package digest names the content-digest algorithms a manifest file group
// may require and computes and compares their hex encodings.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm is a canonical digest algorithm name.
type Algorithm string

const (
	None   Algorithm = ""
	MD5    Algorithm = "MD5"
	SHA1   Algorithm = "SHA-1"
	SHA256 Algorithm = "SHA-256"
	SHA512 Algorithm = "SHA-512"
	BLAKE3 Algorithm = "BLAKE3"
)

// aliases maps lowercase spellings without punctuation to canonical names.
var aliases = map[string]Algorithm{
	"md5":    MD5,
	"sha1":   SHA1,
	"sha256": SHA256,
	"sha512": SHA512,
	"blake3": BLAKE3,
}

// Parse resolves an algorithm name. Matching ignores case, '-' and '_', so
// "sha-1", "SHA1" and "sha_1" all resolve to SHA1. An empty name is None.
func Parse(name string) (Algorithm, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return None, nil
	}
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	if alg, ok := aliases[key]; ok {
		return alg, nil
	}
	return None, fmt.Errorf("unknown digest algorithm %q", name)
}

// New returns a fresh hash for the algorithm, or nil for None.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	case BLAKE3:
		return blake3.New()
	default:
		return nil
	}
}

// String returns the canonical name.
func (a Algorithm) String() string {
	if a == None {
		return "none"
	}
	return string(a)
}

// Sum returns the lowercase hex encoding of h's current sum.
func Sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// File computes the hex digest of the file at path.
// The file is streamed through the hash so memory use stays constant.
func File(path string, alg Algorithm) (string, error) {
	h := alg.New()
	if h == nil {
		return "", fmt.Errorf("no digest algorithm")
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return Sum(h), nil
}

// String computes the hex digest of s.
func String(s string, alg Algorithm) string {
	h := alg.New()
	if h == nil {
		return ""
	}
	io.WriteString(h, s)
	return Sum(h)
}

// Match reports whether two hex digests are equal. Leading zeros and case
// are ignored on both sides, since some servers report digests as unpadded
// big integers.
func Match(a, b string) bool {
	a = strings.TrimLeft(strings.TrimSpace(a), "0")
	b = strings.TrimLeft(strings.TrimSpace(b), "0")
	return strings.EqualFold(a, b)
}
