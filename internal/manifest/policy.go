package manifest

import (
	"net/url"

	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
)

// Policy is the resolved decision record for one file: everything the
// download and deploy steps need, computed once from the group and file.
type Policy struct {
	Identity    string
	URL         string
	Dest        string
	Size        int64
	Version     string
	Digest      digest.Algorithm
	Compression Compression
	Kind        Kind
	Preserve    bool
	Signed      bool
	DeltaFrom   string
	// Checksum is the expected digest of the decoded content, computed with
	// ChecksumAlg. Empty skips the check.
	Checksum    string
	ChecksumAlg digest.Algorithm
}

// HasDigest reports whether the file is verified by content digest.
func (p Policy) HasDigest() bool {
	return p.Digest != digest.None
}

// Resolve builds the Policy for f in g, rooted at root and fetched from base.
func Resolve(root string, base *url.URL, g *FileGroup, f *File) (Policy, error) {
	dest, err := g.DestPath(root, f)
	if err != nil {
		return Policy{}, err
	}
	id, err := Identity(root, dest)
	if err != nil {
		return Policy{}, err
	}
	alg, err := digest.Parse(g.Digest)
	if err != nil {
		return Policy{}, err
	}

	checksumAlg := alg
	if checksumAlg == digest.None {
		checksumAlg = digest.SHA256
	}

	compression := g.Compression
	if compression == "" {
		compression = CompressionNone
	}
	kind := f.Kind
	if kind == "" {
		kind = KindFile
	}

	return Policy{
		Identity:    id,
		URL:         g.URL(base, f),
		Dest:        dest,
		Size:        f.Size,
		Version:     f.Version,
		Digest:      alg,
		Compression: compression,
		Kind:        kind,
		Preserve:    f.Overwrite == OverwritePreserve,
		Signed:      g.Signed,
		DeltaFrom:   f.DeltaFrom,
		Checksum:    f.Checksum,
		ChecksumAlg: checksumAlg,
	}, nil
}
