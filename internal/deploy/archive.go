package deploy

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractTar extracts a tar stream below destDir and returns the written
// paths. Entries that would land outside destDir are rejected. With
// preserve set, entries whose target already exists are left alone but
// still reported.
func extractTar(r io.Reader, destDir string, preserve bool) ([]string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}
	cleanDest := filepath.Clean(destDir)

	var written []string
	tarReader := tar.NewReader(r)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		target := filepath.Join(destDir, header.Name)
		if !within(cleanDest, target) {
			return nil, fmt.Errorf("illegal file path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", target, err)
			}

		case tar.TypeReg:
			written = append(written, target)
			if preserve && exists(target) {
				continue
			}
			if err := writeFileAtomic(target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return nil, fmt.Errorf("write file %s: %w", target, err)
			}

		case tar.TypeSymlink:
			resolved := header.Linkname
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(target), resolved)
			}
			if !within(cleanDest, resolved) {
				return nil, fmt.Errorf("illegal symlink target: %s -> %s", header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, fmt.Errorf("create parent dir for %s: %w", target, err)
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return nil, fmt.Errorf("create symlink %s: %w", target, err)
			}
			written = append(written, target)

		default:
			// Skip other types (char devices, block devices, etc.)
			continue
		}
	}
	return written, nil
}

func within(dir, path string) bool {
	return strings.HasPrefix(filepath.Clean(path), dir+string(os.PathSeparator))
}
