package index

import (
	"fmt"
	"sync"

	"github.com/mnohosten/nora-db/pkg/document"
)

// Index maintains a sorted mapping from a projection of one or more document
// fields to the set of document ids holding that value. Documents missing an
// indexed field are keyed under null, so index-assisted scans and full scans
// always agree.
type Index struct {
	name       string
	fieldPaths []string // Multiple fields for compound indexes
	isUnique   bool
	btree      *BTree
	mu         sync.RWMutex
}

// Config holds configuration for creating an index
type Config struct {
	Name       string
	FieldPaths []string
	Unique     bool
	Order      int // B-tree order
}

// New creates a new index
func New(config *Config) *Index {
	if len(config.FieldPaths) == 0 {
		panic("index must have at least one field")
	}

	order := config.Order
	if order == 0 {
		order = 32 // Default order
	}

	return &Index{
		name:       config.Name,
		fieldPaths: config.FieldPaths,
		isUnique:   config.Unique,
		btree:      NewBTree(order),
	}
}

// KeysFor extracts this index's keys from a document. Missing fields project
// to null. Array values are multikey: the document is recorded under the
// array itself and under each element, so index-assisted scans always agree
// with full scans.
func (idx *Index) KeysFor(doc *document.Document) []interface{} {
	perField := make([][]interface{}, len(idx.fieldPaths))
	for i, fieldPath := range idx.fieldPaths {
		perField[i] = fieldKeys(doc, fieldPath)
	}

	if len(idx.fieldPaths) == 1 {
		return perField[0]
	}

	// Compound index: cartesian product of per-field key sets
	keys := []interface{}{}
	var build func(prefix []interface{}, rest [][]interface{})
	build = func(prefix []interface{}, rest [][]interface{}) {
		if len(rest) == 0 {
			keys = append(keys, NewCompositeKey(prefix...))
			return
		}
		for _, v := range rest[0] {
			build(append(append([]interface{}{}, prefix...), v), rest[1:])
		}
	}
	build(nil, perField)
	return dedupKeys(keys)
}

// fieldKeys lists the distinct index keys one field contributes
func fieldKeys(doc *document.Document, fieldPath string) []interface{} {
	resolved := doc.ResolvePath(fieldPath)

	keys := make([]interface{}, 0, len(resolved))
	for _, pv := range resolved {
		v := document.Normalize(pv.Value)
		keys = append(keys, v)
		if arr, isArr := v.([]interface{}); isArr {
			keys = append(keys, arr...)
		}
	}
	return dedupKeys(keys)
}

func dedupKeys(keys []interface{}) []interface{} {
	out := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		dup := false
		for _, seen := range out {
			if keysEqual(seen, k) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, k)
		}
	}
	return out
}

// CheckAdd reports whether adding id under key would violate uniqueness
func (idx *Index) CheckAdd(key interface{}, id string) error {
	if !idx.isUnique {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if ids, found := idx.btree.Lookup(key); found {
		for _, existing := range ids {
			if existing != id {
				return fmt.Errorf("index %s, key %v: %w", idx.name, key, ErrDuplicateKey)
			}
		}
	}
	return nil
}

// Add records id under key
func (idx *Index) Add(key interface{}, id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.btree.Add(key, id)
}

// Remove deletes id from the posting list of key
func (idx *Index) Remove(key interface{}, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.btree.Remove(key, id); err != nil {
		return fmt.Errorf("index %s, key %v: %w", idx.name, key, err)
	}
	return nil
}

// Lookup returns the ids recorded under an exact key
func (idx *Index) Lookup(key interface{}) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids, _ := idx.btree.Lookup(key)
	return ids
}

// RangeLookup returns all ids whose key falls in [lower, upper]; nil bounds
// are unbounded. Ids are returned in key order, callers re-order as needed.
func (idx *Index) RangeLookup(lower, upper interface{}) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, postings := idx.btree.RangeScan(lower, upper)
	ids := make([]string, 0)
	for _, p := range postings {
		ids = append(ids, p...)
	}
	return ids
}

// PrefixLookup returns all ids whose composite key starts with prefix.
// Only meaningful for compound indexes.
func (idx *Index) PrefixLookup(prefix *CompositeKey) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	keys, postings := idx.btree.RangeScan(nil, nil)
	ids := make([]string, 0)
	for i, k := range keys {
		ck, ok := k.(*CompositeKey)
		if !ok || !ck.MatchesPrefix(prefix) {
			continue
		}
		ids = append(ids, postings[i]...)
	}
	return ids
}

// Size returns the number of distinct keys in the index
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.btree.Size()
}

// Name returns the index name
func (idx *Index) Name() string {
	return idx.name
}

// FieldPath returns the first field path
func (idx *Index) FieldPath() string {
	return idx.fieldPaths[0]
}

// FieldPaths returns all field paths this index covers
func (idx *Index) FieldPaths() []string {
	return idx.fieldPaths
}

// IsCompound returns true if this is a compound index (multiple fields)
func (idx *Index) IsCompound() bool {
	return len(idx.fieldPaths) > 1
}

// IsUnique returns whether this is a unique index
func (idx *Index) IsUnique() bool {
	return idx.isUnique
}

// Stats returns index statistics
func (idx *Index) Stats() map[string]interface{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return map[string]interface{}{
		"name":        idx.name,
		"field_paths": idx.fieldPaths,
		"is_compound": idx.IsCompound(),
		"unique":      idx.isUnique,
		"size":        idx.btree.Size(),
		"height":      idx.btree.Height(),
	}
}
