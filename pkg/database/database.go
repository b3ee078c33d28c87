package database

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mnohosten/nora-db/pkg/document"
)

// Database owns a set of named collections and provides the collection
// access that $lookup and $out pipeline stages need.
type Database struct {
	name        string
	collections map[string]*Collection
	mu          sync.RWMutex
}

// New creates an empty in-memory database
func New(name string) *Database {
	if name == "" {
		name = "default"
	}
	return &Database{
		name:        name,
		collections: make(map[string]*Collection),
	}
}

// Name returns the database name
func (db *Database) Name() string {
	return db.name
}

// Collection returns a collection, creating it if it doesn't exist
func (db *Database) Collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	if coll, exists := db.collections[name]; exists {
		return coll
	}

	coll := NewCollection(name)
	db.collections[name] = coll
	return coll
}

// CreateCollection explicitly creates a collection
func (db *Database) CreateCollection(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.collections[name]; exists {
		return nil, fmt.Errorf("collection %s already exists", name)
	}

	coll := NewCollection(name)
	db.collections[name] = coll
	return coll, nil
}

// GetCollection returns an existing collection or ErrCollectionNotFound
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	coll, exists := db.collections[name]
	if !exists {
		return nil, fmt.Errorf("collection %s: %w", name, ErrCollectionNotFound)
	}
	return coll, nil
}

// DropCollection removes a collection and all its documents
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.collections[name]; !exists {
		return fmt.Errorf("collection %s: %w", name, ErrCollectionNotFound)
	}
	delete(db.collections, name)
	return nil
}

// ListCollections returns collection names in sorted order
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aggregate runs an aggregation pipeline over a collection with this
// database serving as the stage environment
func (db *Database) Aggregate(collection string, stages []map[string]interface{}) ([]*document.Document, error) {
	coll := db.Collection(collection)
	return coll.Aggregate(stages, db)
}

// CollectionDocs returns a snapshot of a collection's documents in insertion
// order. Missing collections read as empty, the way $lookup expects.
func (db *Database) CollectionDocs(name string) ([]*document.Document, error) {
	db.mu.RLock()
	coll, exists := db.collections[name]
	db.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	coll.mu.RLock()
	defer coll.mu.RUnlock()
	return coll.snapshotLocked(), nil
}

// ReplaceCollection atomically replaces a collection's contents, creating
// the collection when absent
func (db *Database) ReplaceCollection(name string, docs []*document.Document) error {
	return db.Collection(name).replaceAll(docs)
}

// Stats returns per-collection statistics
func (db *Database) Stats() map[string]interface{} {
	db.mu.RLock()
	defer db.mu.RUnlock()

	collections := make(map[string]interface{}, len(db.collections))
	for name, coll := range db.collections {
		collections[name] = coll.Stats()
	}
	return map[string]interface{}{
		"name":        db.name,
		"collections": collections,
	}
}
