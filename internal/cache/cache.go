// Package cache is the persisted version cache of an installation: the
// last version marker applied per file identity, the last applied update
// identifier, remembered component choices and acknowledged messages.
//
// The cache is read once when an update starts, mutated in memory while the
// update runs and written back by Persist only after the whole pass
// succeeded. A run that dies before Persist leaves the file untouched.
package cache

import (
	"encoding/json"
	"os"
	"sort"

	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transaction"
)

// FileName is the cache document written into the installation root.
const FileName = "update_cache.json"

const schemaVersion = 1

type document struct {
	Version      int               `json:"version"`
	LastUpdateID string            `json:"last_update_id,omitempty"`
	Files        map[string]string `json:"files"`
	Components   map[string]bool   `json:"components,omitempty"`
	Acknowledged []string          `json:"acknowledged,omitempty"`
}

// Cache is the in-memory version cache. It is owned by a single update run
// and is not safe for concurrent use.
type Cache struct {
	path    string
	doc     document
	touched map[string]bool
	acked   map[string]bool
}

// Open reads the cache at path. A missing file yields an empty cache; a
// corrupt one is a persist failure so a damaged cache is never silently
// replaced.
func Open(path string) (*Cache, error) {
	c := &Cache{
		path:    path,
		doc:     document{Version: schemaVersion, Files: map[string]string{}},
		touched: map[string]bool{},
		acked:   map[string]bool{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, uerrors.Wrap(err, uerrors.ErrPersist, "reading version cache").WithPath(path)
	}

	if err := json.Unmarshal(data, &c.doc); err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrPersist, "version cache is corrupt").WithPath(path)
	}
	if c.doc.Files == nil {
		c.doc.Files = map[string]string{}
	}
	for _, id := range c.doc.Acknowledged {
		c.acked[id] = true
	}
	return c, nil
}

// Path returns the file the cache persists to.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the marker recorded for identity.
func (c *Cache) Get(identity string) (string, bool) {
	marker, ok := c.doc.Files[identity]
	return marker, ok
}

// Set records marker for identity and touches it. An empty marker removes
// the entry.
func (c *Cache) Set(identity, marker string) {
	c.touched[identity] = true
	if marker == "" {
		delete(c.doc.Files, identity)
		return
	}
	c.doc.Files[identity] = marker
}

// Identities returns every identity with a recorded marker, sorted.
func (c *Cache) Identities() []string {
	ids := make([]string, 0, len(c.doc.Files))
	for id := range c.doc.Files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Touch marks identity as still relevant to the installation.
func (c *Cache) Touch(identity string) {
	c.touched[identity] = true
}

// Prune drops every file entry that was not touched since Open and
// returns the removed identities, sorted.
func (c *Cache) Prune() []string {
	var removed []string
	for id := range c.doc.Files {
		if !c.touched[id] {
			removed = append(removed, id)
			delete(c.doc.Files, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// RecallSelection returns the remembered choice for component id.
func (c *Cache) RecallSelection(id string) (bool, bool) {
	selected, ok := c.doc.Components[id]
	return selected, ok
}

// StoreSelection remembers the choice for component id.
func (c *Cache) StoreSelection(id string, selected bool) {
	if c.doc.Components == nil {
		c.doc.Components = map[string]bool{}
	}
	c.doc.Components[id] = selected
}

// Acknowledged reports whether a one-time message was already shown.
func (c *Cache) Acknowledged(messageID string) bool {
	return c.acked[messageID]
}

// Acknowledge records that a one-time message was shown.
func (c *Cache) Acknowledge(messageID string) {
	if c.acked[messageID] {
		return
	}
	c.acked[messageID] = true
	c.doc.Acknowledged = append(c.doc.Acknowledged, messageID)
}

// LastUpdateID returns the identifier of the last committed update.
func (c *Cache) LastUpdateID() string {
	return c.doc.LastUpdateID
}

// SetLastUpdateID records the identifier of the update being committed.
func (c *Cache) SetLastUpdateID(id string) {
	c.doc.LastUpdateID = id
}

// Persist writes the whole cache with write-then-rename. On failure the
// previous file is left as it was.
func (c *Cache) Persist() error {
	sort.Strings(c.doc.Acknowledged)
	data, err := json.MarshalIndent(c.doc, "", "  ")
	if err != nil {
		return uerrors.Wrap(err, uerrors.ErrPersist, "encoding version cache").WithPath(c.path)
	}
	if err := transaction.WriteFileAtomic(c.path, data, 0644); err != nil {
		return uerrors.Wrap(err, uerrors.ErrPersist, "writing version cache").WithPath(c.path)
	}
	return nil
}
