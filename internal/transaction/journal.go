package transaction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// State represents the current state of an update run.
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// JournalFileName is the journal file written into the staging directory.
const JournalFileName = "journal.json"

// Journal describes one update run. It is informational: the version cache
// and ledger remain the only inputs to update decisions.
type Journal struct {
	Version   int       `json:"version"` // Schema version for future evolution
	ID        string    `json:"id"`      // UUID for unique identification
	Target    string    `json:"target,omitempty"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Step      string    `json:"step,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// NewJournal creates an in-progress journal for a new run.
func NewJournal(target, mode string, now time.Time) *Journal {
	return &Journal{
		Version:   1,
		ID:        uuid.New().String(),
		Target:    target,
		Mode:      mode,
		Timestamp: now.UTC(),
		State:     StateInProgress,
	}
}

// Mark records a state transition and the step it happened in.
func (j *Journal) Mark(state State, step string, err error) {
	j.State = state
	j.Step = step
	if err != nil {
		j.LastError = err.Error()
	} else {
		j.LastError = ""
	}
}

// Save writes the journal to dir atomically.
func (j *Journal) Save(dir string) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, JournalFileName), data, 0600); err != nil {
		return fmt.Errorf("save journal: %w", err)
	}
	return nil
}

// LoadJournal reads the journal from dir. A missing journal returns nil, nil.
func LoadJournal(dir string) (*Journal, error) {
	data, err := os.ReadFile(filepath.Join(dir, JournalFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	return &j, nil
}

// Interrupted reports whether the journal belongs to a run that never
// reached a terminal state.
func (j *Journal) Interrupted() bool {
	return j != nil && j.State == StateInProgress
}
