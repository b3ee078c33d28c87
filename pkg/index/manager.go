package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mnohosten/nora-db/pkg/document"
)

// Manager maintains all indexes of a collection and keeps them consistent
// with the document set. On every mutation it is handed the old and new
// document snapshots (old absent on insert, new absent on delete) and updates
// every index whose key fields changed. Validation happens before any index
// is touched, so a failed mutation leaves every index unchanged.
type Manager struct {
	indexes map[string]*Index
	mu      sync.RWMutex
}

// NewManager creates an empty index manager
func NewManager() *Manager {
	return &Manager{
		indexes: make(map[string]*Index),
	}
}

// IndexName derives the canonical index name from its field paths,
// e.g. "city_1_age_1"
func IndexName(fieldPaths []string) string {
	parts := make([]string, 0, len(fieldPaths))
	for _, fp := range fieldPaths {
		parts = append(parts, fp+"_1")
	}
	return strings.Join(parts, "_")
}

// Create adds an index over the given field paths and returns it. The caller
// backfills existing documents through Apply.
func (m *Manager) Create(fieldPaths []string, unique bool) (*Index, error) {
	if len(fieldPaths) == 0 {
		return nil, fmt.Errorf("index requires at least one field path")
	}

	name := IndexName(fieldPaths)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.indexes[name]; exists {
		return nil, fmt.Errorf("%s: %w", name, ErrIndexExists)
	}

	idx := New(&Config{
		Name:       name,
		FieldPaths: fieldPaths,
		Unique:     unique,
	})
	m.indexes[name] = idx
	return idx, nil
}

// Drop removes an index by name
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.indexes[name]; !exists {
		return fmt.Errorf("%s: %w", name, ErrIndexNotFound)
	}
	delete(m.indexes, name)
	return nil
}

// Get returns an index by name
func (m *Manager) Get(name string) (*Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[name]
	return idx, ok
}

// All returns every index, in no particular order
func (m *Manager) All() []*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		all = append(all, idx)
	}
	return all
}

// indexDelta is one index's pending key changes for a document mutation
type indexDelta struct {
	idx     *Index
	removed []interface{}
	added   []interface{}
}

// Apply updates every affected index for one document mutation. old is nil
// on insert, updated is nil on delete. All uniqueness checks run before the
// first index is modified, so a rejected mutation leaves every index intact.
func (m *Manager) Apply(id string, old, updated *document.Document) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deltas := make([]indexDelta, 0, len(m.indexes))

	for _, idx := range m.indexes {
		var oldKeys, newKeys []interface{}
		if old != nil {
			oldKeys = idx.KeysFor(old)
		}
		if updated != nil {
			newKeys = idx.KeysFor(updated)
		}

		delta := indexDelta{
			idx:     idx,
			removed: keysDifference(oldKeys, newKeys),
			added:   keysDifference(newKeys, oldKeys),
		}
		if len(delta.removed) == 0 && len(delta.added) == 0 {
			continue
		}

		for _, key := range delta.added {
			if err := idx.CheckAdd(key, id); err != nil {
				return err
			}
		}

		deltas = append(deltas, delta)
	}

	for _, delta := range deltas {
		for _, key := range delta.removed {
			if err := delta.idx.Remove(key, id); err != nil {
				return err
			}
		}
		for _, key := range delta.added {
			delta.idx.Add(key, id)
		}
	}

	return nil
}

// keysDifference returns the keys in a that have no equal key in b
func keysDifference(a, b []interface{}) []interface{} {
	diff := make([]interface{}, 0)
	for _, ka := range a {
		found := false
		for _, kb := range b {
			if keysEqual(ka, kb) {
				found = true
				break
			}
		}
		if !found {
			diff = append(diff, ka)
		}
	}
	return diff
}

func keysEqual(a, b interface{}) bool {
	ca, aComposite := a.(*CompositeKey)
	cb, bComposite := b.(*CompositeKey)
	if aComposite && bComposite {
		return ca.Compare(cb) == 0
	}
	if aComposite != bComposite {
		return false
	}
	return document.Compare(a, b) == 0
}

// Stats returns statistics for every index
func (m *Manager) Stats() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]map[string]interface{}, 0, len(m.indexes))
	for _, idx := range m.indexes {
		stats = append(stats, idx.Stats())
	}
	return stats
}
