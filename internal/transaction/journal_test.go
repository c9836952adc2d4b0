package transaction

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	j := NewJournal("1.4.2", "incremental", now)
	if j.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if !j.Interrupted() {
		t.Error("new journal should be in progress")
	}

	if err := j.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadJournal(dir)
	if err != nil {
		t.Fatalf("LoadJournal failed: %v", err)
	}
	if loaded.ID != j.ID || loaded.Target != "1.4.2" || !loaded.Timestamp.Equal(now) {
		t.Errorf("loaded journal mismatch: %+v", loaded)
	}

	loaded.Mark(StateFailed, "deploy", errors.New("disk full"))
	if loaded.Interrupted() {
		t.Error("failed journal should not count as interrupted")
	}
	if loaded.LastError != "disk full" || loaded.Step != "deploy" {
		t.Errorf("unexpected mark result: %+v", loaded)
	}
}

func TestLoadJournalMissing(t *testing.T) {
	j, err := LoadJournal(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j != nil {
		t.Errorf("expected nil journal, got %+v", j)
	}
}

func TestLoadJournalCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, JournalFileName), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadJournal(dir); err == nil {
		t.Error("expected error for corrupt journal")
	}
}
