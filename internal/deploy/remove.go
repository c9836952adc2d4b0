package deploy

import (
	"fmt"
	"os"
	"path/filepath"
)

// Remove deletes the file with the given identity below root, then removes
// parent directories left empty, stopping at root. A file that is already
// gone is not an error.
func Remove(root, identity string) error {
	cleanRoot := filepath.Clean(root)
	path := filepath.Join(cleanRoot, filepath.FromSlash(identity))
	if !within(cleanRoot, path) {
		return fmt.Errorf("refusing to delete %s outside %s", identity, root)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", identity, err)
	}

	for dir := filepath.Dir(path); within(cleanRoot, dir); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}
