package deploy

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
)

// decoder wraps r so that reads return the decoded content.
func decoder(r io.Reader, c manifest.Compression) (io.ReadCloser, error) {
	switch c {
	case "", manifest.CompressionNone:
		return io.NopCloser(r), nil
	case manifest.CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, nil
	case manifest.CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case manifest.CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}
