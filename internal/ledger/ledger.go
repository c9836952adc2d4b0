// Package ledger records every path an installation pass placed on disk,
// grouped by the manifest entry that produced it.
//
// Two ledgers take part in every update: the previous installation's,
// read from disk, and the current pass's, built up while deploying. Paths
// in the first but not the second are orphans and get deleted. The ledger
// is the only input to deletion.
package ledger

import (
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"

	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transaction"
)

// FileName is the ledger file written into the installation root.
const FileName = "installed.ledger"

const schemaVersion = 1

// encMode uses Core Deterministic Encoding so the same ledger content
// always produces identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("ledger: CBOR decoder initialization failed: " + err.Error())
	}
}

type document struct {
	Version int                 `cbor:"1,keyasint"`
	Groups  map[string][]string `cbor:"2,keyasint"`
}

// Ledger maps a group key to the set of root-relative paths it installed.
// It is not safe for concurrent use.
type Ledger struct {
	groups map[string]map[string]struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{groups: map[string]map[string]struct{}{}}
}

// Read loads the ledger at path. A missing file is an empty ledger.
func Read(path string) (*Ledger, error) {
	l := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, uerrors.Wrap(err, uerrors.ErrPersist, "reading ledger").WithPath(path)
	}

	var doc document
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrPersist, "ledger is corrupt").WithPath(path)
	}
	if doc.Version > schemaVersion {
		return nil, uerrors.Newf(uerrors.ErrPersist, "ledger schema %d is newer than supported %d",
			doc.Version, schemaVersion).WithPath(path)
	}
	for key, paths := range doc.Groups {
		for _, p := range paths {
			l.Add(key, p)
		}
	}
	return l, nil
}

// Add records that group key installed path.
func (l *Ledger) Add(key, path string) {
	set, ok := l.groups[key]
	if !ok {
		set = map[string]struct{}{}
		l.groups[key] = set
	}
	set[path] = struct{}{}
}

// Has reports whether any group recorded path.
func (l *Ledger) Has(path string) bool {
	for _, set := range l.groups {
		if _, ok := set[path]; ok {
			return true
		}
	}
	return false
}

// HasGroup reports whether group key exists.
func (l *Ledger) HasGroup(key string) bool {
	_, ok := l.groups[key]
	return ok
}

// Group returns the sorted paths recorded under key.
func (l *Ledger) Group(key string) []string {
	return sortedKeys(l.groups[key])
}

// CopyGroupFrom copies every path old recorded under key into l and
// reports whether old had that group. Used for files left untouched by a
// pass so they are not mistaken for orphans.
func (l *Ledger) CopyGroupFrom(old *Ledger, key string) bool {
	set, ok := old.groups[key]
	if !ok {
		return false
	}
	for p := range set {
		l.Add(key, p)
	}
	return true
}

// Paths returns every recorded path, sorted and de-duplicated.
func (l *Ledger) Paths() []string {
	all := map[string]struct{}{}
	for _, set := range l.groups {
		for p := range set {
			all[p] = struct{}{}
		}
	}
	return sortedKeys(all)
}

// Len returns the number of distinct paths.
func (l *Ledger) Len() int {
	return len(l.Paths())
}

// Orphans returns the paths recorded in previous but not in current,
// sorted in reverse so files come before the directories holding them.
func Orphans(previous, current *Ledger) []string {
	var out []string
	for _, p := range previous.Paths() {
		if !current.Has(p) {
			out = append(out, p)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

// Encode returns the deterministic CBOR encoding of the ledger.
func (l *Ledger) Encode() ([]byte, error) {
	doc := document{Version: schemaVersion, Groups: make(map[string][]string, len(l.groups))}
	for key, set := range l.groups {
		doc.Groups[key] = sortedKeys(set)
	}
	data, err := encMode.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// Write replaces the ledger at path atomically.
func (l *Ledger) Write(path string) error {
	data, err := l.Encode()
	if err != nil {
		return uerrors.Wrap(err, uerrors.ErrPersist, "encoding ledger").WithPath(path)
	}
	if err := transaction.WriteFileAtomic(path, data, 0644); err != nil {
		return uerrors.Wrap(err, uerrors.ErrPersist, "writing ledger").WithPath(path)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
