package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
)

const (
	// StagingDirName is the staging directory below the installation root.
	StagingDirName = "_download"
	// InProgressSuffix marks a file that is still being written.
	InProgressSuffix = ".download"
)

// Staging is the private working directory of one update pass. A final
// staged file is always complete; an in-progress file may be a leftover
// of a crash and is never trusted.
type Staging struct {
	Dir string
}

// NewStaging returns the staging area below root.
func NewStaging(root string) *Staging {
	return &Staging{Dir: filepath.Join(root, StagingDirName)}
}

// FinalPath is where the completed download staged under key is kept.
// Keys are URLs, optionally qualified by StageKey.
func (s *Staging) FinalPath(key string) string {
	return filepath.Join(s.Dir, "_"+digest.String(key, digest.MD5))
}

// InProgressPath is where the download staged under key is written while
// it transfers.
func (s *Staging) InProgressPath(key string) string {
	return s.FinalPath(key) + InProgressSuffix
}

// HasFinal reports whether a completed download is staged under key.
func (s *Staging) HasFinal(key string) bool {
	info, err := os.Stat(s.FinalPath(key))
	return err == nil && info.Mode().IsRegular()
}

// Ensure creates the staging directory.
func (s *Staging) Ensure() error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	return nil
}

// Clear empties the staging directory, keeping the directory itself.
func (s *Staging) Clear() error {
	if err := s.Remove(); err != nil {
		return err
	}
	return s.Ensure()
}

// Remove deletes the staging directory and everything in it.
func (s *Staging) Remove() error {
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// promote renames the in-progress file of key to its final name.
func (s *Staging) promote(key string) error {
	final := s.FinalPath(key)
	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale staged file: %w", err)
	}
	if err := os.Rename(s.InProgressPath(key), final); err != nil {
		return fmt.Errorf("promote staged file: %w", err)
	}
	return nil
}
