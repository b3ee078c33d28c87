package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/mnohosten/nora-db/pkg/aggregation"
	"github.com/mnohosten/nora-db/pkg/cache"
	"github.com/mnohosten/nora-db/pkg/document"
	"github.com/mnohosten/nora-db/pkg/index"
	"github.com/mnohosten/nora-db/pkg/query"
	"github.com/mnohosten/nora-db/pkg/update"
)

// Collection represents a collection of documents. Documents are keyed by
// _id and iterated in insertion order.
type Collection struct {
	name       string
	documents  map[string]*document.Document // canonical _id key -> document
	order      []string                      // insertion order of keys
	indexes    *index.Manager
	planner    *query.Planner
	queryCache *cache.QueryCache
	mu         sync.RWMutex
}

// NewCollection creates a new collection with a unique index on _id
func NewCollection(name string) *Collection {
	coll := &Collection{
		name:       name,
		documents:  make(map[string]*document.Document),
		indexes:    index.NewManager(),
		queryCache: cache.NewQueryCache(1000, 5*time.Minute),
	}
	coll.planner = query.NewPlanner(coll.indexes)

	// Every collection carries a unique _id index
	if _, err := coll.indexes.Create([]string{"_id"}, true); err != nil {
		panic(fmt.Sprintf("creating _id index: %v", err))
	}

	return coll
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// docKey renders an _id value into a canonical map key so that uniqueness
// follows value equality rather than Go type identity
func docKey(id interface{}) (string, error) {
	wrapper := document.NewDocument()
	wrapper.Set("id", id)

	encoded, err := document.NewEncoder().Encode(wrapper)
	if err != nil {
		return "", fmt.Errorf("_id value is not storable: %w", err)
	}
	return string(encoded), nil
}

// InsertOne inserts a single document and returns its _id. An ObjectID is
// generated when the document has none.
func (c *Collection) InsertOne(doc map[string]interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := document.NewDocumentFromMap(doc)
	return c.insertLocked(d)
}

// InsertMany inserts documents one at a time. On failure the documents
// inserted so far stay inserted and the error names the failing position.
func (c *Collection) InsertMany(docs []map[string]interface{}) ([]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]interface{}, 0, len(docs))
	for i, doc := range docs {
		d := document.NewDocumentFromMap(doc)
		id, err := c.insertLocked(d)
		if err != nil {
			return ids, fmt.Errorf("document %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// insertLocked validates and stores a document. Caller holds the write lock.
func (c *Collection) insertLocked(d *document.Document) (interface{}, error) {
	id, exists := d.Get("_id")
	if !exists {
		objectID := document.NewObjectID()
		// _id leads the stored field order
		withID := document.NewDocument()
		withID.Set("_id", objectID)
		for _, key := range d.Keys() {
			value, _ := d.Get(key)
			withID.Set(key, value)
		}
		d = withID
		id = objectID
	}

	size, err := document.EncodedSize(d)
	if err != nil {
		return nil, err
	}
	if size > document.MaxDocumentSize {
		return nil, fmt.Errorf("document is %d bytes: %w", size, ErrDocumentTooLarge)
	}

	key, err := docKey(id)
	if err != nil {
		return nil, err
	}
	if _, taken := c.documents[key]; taken {
		return nil, fmt.Errorf("_id %v: %w", id, ErrDuplicateID)
	}

	if err := c.indexes.Apply(key, nil, d); err != nil {
		return nil, err
	}

	c.documents[key] = d
	c.order = append(c.order, key)
	c.queryCache.Clear()

	return id, nil
}

// Find returns all documents matching the filter in insertion order
func (c *Collection) Find(filter map[string]interface{}) ([]*document.Document, error) {
	return c.FindWithOptions(filter, nil)
}

// FindOne returns the first matching document in insertion order, or
// ErrDocumentNotFound
func (c *Collection) FindOne(filter map[string]interface{}) (*document.Document, error) {
	docs, err := c.FindWithOptions(filter, &QueryOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	return docs[0], nil
}

// FindWithOptions runs a filtered read with sort, skip, limit and projection
// applied in that fixed order
func (c *Collection) FindWithOptions(filter map[string]interface{}, opts *QueryOptions) ([]*document.Document, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	cacheKey := cache.GenerateKey(filter, sortKeyPart(opts.Sort), opts.Skip, opts.Limit, opts.Projection)
	if cached, hit := c.queryCache.Get(cacheKey); hit {
		return cloneDocs(cached), nil
	}

	results, err := c.findLocked(filter, opts)
	if err != nil {
		return nil, err
	}

	c.queryCache.Put(cacheKey, results)
	return cloneDocs(results), nil
}

// findLocked runs the query against the live document set. Caller holds at
// least the read lock. The returned documents are fresh copies.
func (c *Collection) findLocked(filter map[string]interface{}, opts *QueryOptions) ([]*document.Document, error) {
	q, err := query.NewQuery(filter)
	if err != nil {
		return nil, err
	}
	q.WithProjection(opts.Projection).
		WithSort(opts.Sort).
		WithLimit(opts.Limit).
		WithSkip(opts.Skip)

	matched := make([]*document.Document, 0)
	for _, key := range c.candidateKeys(filter) {
		doc, exists := c.documents[key]
		if !exists {
			continue
		}
		if q.Matches(doc) {
			matched = append(matched, doc)
		}
	}

	if len(opts.Sort) > 0 {
		sorted := make([]*document.Document, len(matched))
		copy(sorted, matched)
		query.SortDocuments(sorted, opts.Sort)
		matched = sorted
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[opts.Skip:]
		}
	}

	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	results := make([]*document.Document, 0, len(matched))
	for _, doc := range matched {
		if len(opts.Projection) > 0 {
			results = append(results, q.ApplyProjection(doc))
		} else {
			results = append(results, doc.Clone())
		}
	}

	return results, nil
}

// candidateKeys narrows the scanned keys through the planner when an index
// fits the filter. Candidates come back in insertion order so that index
// scans and collection scans agree on document order.
func (c *Collection) candidateKeys(filter map[string]interface{}) []string {
	plan := c.planner.Plan(filter)
	if !plan.UseIndex {
		return c.order
	}

	candidates := make(map[string]bool)
	for _, key := range plan.CandidateIDs() {
		candidates[key] = true
	}

	keys := make([]string, 0, len(candidates))
	for _, key := range c.order {
		if candidates[key] {
			keys = append(keys, key)
		}
	}
	return keys
}

// Count returns the number of documents matching the filter
func (c *Collection) Count(filter map[string]interface{}) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, err := query.NewQuery(filter)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, key := range c.candidateKeys(filter) {
		if doc, exists := c.documents[key]; exists && q.Matches(doc) {
			count++
		}
	}
	return count, nil
}

// UpdateOne applies an update to the first matching document
func (c *Collection) UpdateOne(filter, updateSpec map[string]interface{}, opts *UpdateOptions) (*UpdateResult, error) {
	return c.updateDocs(filter, updateSpec, opts, 1)
}

// UpdateMany applies an update to every matching document
func (c *Collection) UpdateMany(filter, updateSpec map[string]interface{}, opts *UpdateOptions) (*UpdateResult, error) {
	return c.updateDocs(filter, updateSpec, opts, 0)
}

// updateDocs is the shared update path. maxDocs of 0 means unbounded.
// Documents are updated one at a time; a failure aborts the remainder but
// already updated documents stay updated.
func (c *Collection) updateDocs(filter, updateSpec map[string]interface{}, opts *UpdateOptions, maxDocs int) (*UpdateResult, error) {
	if opts == nil {
		opts = &UpdateOptions{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := query.NewQuery(filter)
	if err != nil {
		return nil, err
	}
	if err := update.Validate(updateSpec); err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	keys := c.candidateKeys(filter)

	for _, key := range keys {
		doc, exists := c.documents[key]
		if !exists || !q.Matches(doc) {
			continue
		}
		result.MatchedCount++

		updated, err := update.Apply(doc, updateSpec, false)
		if err != nil {
			c.queryCache.Clear()
			return result, fmt.Errorf("updating document _id %v: %w", mustID(doc), err)
		}

		if document.Equals(doc, updated) {
			if maxDocs > 0 && result.MatchedCount >= maxDocs {
				break
			}
			continue
		}

		if err := c.indexes.Apply(key, doc, updated); err != nil {
			c.queryCache.Clear()
			return result, fmt.Errorf("updating document _id %v: %w", mustID(doc), err)
		}

		c.documents[key] = updated
		result.ModifiedCount++

		if maxDocs > 0 && result.MatchedCount >= maxDocs {
			break
		}
	}

	if result.MatchedCount == 0 && opts.Upsert {
		id, err := c.upsertLocked(filter, updateSpec)
		if err != nil {
			return result, err
		}
		result.UpsertedID = id
	}

	if result.ModifiedCount > 0 || result.UpsertedID != nil {
		c.queryCache.Clear()
	}

	return result, nil
}

// upsertLocked synthesizes a new document from the filter's top-level
// equality conditions and the update spec, then inserts it
func (c *Collection) upsertLocked(filter, updateSpec map[string]interface{}) (interface{}, error) {
	seed := document.NewDocumentFromMap(query.EqualityFields(filter))

	synthesized, err := update.Apply(seed, updateSpec, true)
	if err != nil {
		return nil, fmt.Errorf("upserting: %w", err)
	}

	return c.insertLocked(synthesized)
}

// DeleteOne removes the first matching document
func (c *Collection) DeleteOne(filter map[string]interface{}) (*DeleteResult, error) {
	return c.deleteDocs(filter, 1)
}

// DeleteMany removes every matching document
func (c *Collection) DeleteMany(filter map[string]interface{}) (*DeleteResult, error) {
	return c.deleteDocs(filter, 0)
}

func (c *Collection) deleteDocs(filter map[string]interface{}, maxDocs int) (*DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := query.NewQuery(filter)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{}
	removed := make(map[string]bool)

	for _, key := range c.candidateKeys(filter) {
		doc, exists := c.documents[key]
		if !exists || !q.Matches(doc) {
			continue
		}

		if err := c.indexes.Apply(key, doc, nil); err != nil {
			c.removeFromOrder(removed)
			return result, fmt.Errorf("deleting document _id %v: %w", mustID(doc), err)
		}
		delete(c.documents, key)
		removed[key] = true
		result.DeletedCount++

		if maxDocs > 0 && result.DeletedCount >= maxDocs {
			break
		}
	}

	if result.DeletedCount > 0 {
		c.removeFromOrder(removed)
	}

	return result, nil
}

// FindOneAndDelete removes the first matching document and returns it, or
// ErrDocumentNotFound when nothing matches
func (c *Collection) FindOneAndDelete(filter map[string]interface{}) (*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := query.NewQuery(filter)
	if err != nil {
		return nil, err
	}

	for _, key := range c.candidateKeys(filter) {
		doc, exists := c.documents[key]
		if !exists || !q.Matches(doc) {
			continue
		}

		if err := c.indexes.Apply(key, doc, nil); err != nil {
			return nil, fmt.Errorf("deleting document _id %v: %w", mustID(doc), err)
		}
		delete(c.documents, key)
		c.removeFromOrder(map[string]bool{key: true})
		return doc, nil
	}

	return nil, ErrDocumentNotFound
}

// removeFromOrder drops the given keys from the insertion order. Caller
// holds the write lock.
func (c *Collection) removeFromOrder(removed map[string]bool) {
	if len(removed) == 0 {
		return
	}
	kept := c.order[:0]
	for _, key := range c.order {
		if !removed[key] {
			kept = append(kept, key)
		}
	}
	c.order = kept
	c.queryCache.Clear()
}

// CreateIndex builds an index over the given field paths and backfills it
// from the existing documents. A unique violation during backfill drops the
// half-built index and fails the whole operation.
func (c *Collection) CreateIndex(fieldPaths []string, unique bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.indexes.Create(fieldPaths, unique)
	if err != nil {
		return "", err
	}

	for _, key := range c.order {
		doc := c.documents[key]
		for _, indexKey := range idx.KeysFor(doc) {
			if err := idx.CheckAdd(indexKey, key); err != nil {
				c.indexes.Drop(idx.Name())
				return "", fmt.Errorf("backfilling index %s: %w", idx.Name(), err)
			}
			idx.Add(indexKey, key)
		}
	}

	c.queryCache.Clear()
	return idx.Name(), nil
}

// DropIndex removes an index by name. The _id index cannot be dropped.
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == index.IndexName([]string{"_id"}) {
		return fmt.Errorf("cannot drop the _id index")
	}

	if err := c.indexes.Drop(name); err != nil {
		return err
	}
	c.queryCache.Clear()
	return nil
}

// ListIndexes returns a description of every index on the collection
func (c *Collection) ListIndexes() []map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.indexes.Stats()
}

// Explain reports the access path the planner would choose for a filter
func (c *Collection) Explain(filter map[string]interface{}) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.planner.Plan(filter).Explain()
}

// Aggregate runs a compiled pipeline over a snapshot of the collection. The
// snapshot is taken under the read lock, then the pipeline runs outside it
// so that $lookup and $out can touch other collections.
func (c *Collection) Aggregate(stages []map[string]interface{}, env aggregation.Env) ([]*document.Document, error) {
	pipeline, err := aggregation.NewPipeline(stages)
	if err != nil {
		return nil, err
	}

	docs, err := c.pipelineInput(stages)
	if err != nil {
		return nil, err
	}

	return pipeline.Execute(docs, env)
}

// pipelineInput snapshots the collection in insertion order. When the first
// stage is a $match its filter restricts the snapshot through the planner;
// the stage re-applies the same predicate, so results are unchanged.
func (c *Collection) pipelineInput(stages []map[string]interface{}) ([]*document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(stages) > 0 {
		if filter, ok := stages[0]["$match"].(map[string]interface{}); ok {
			return c.findLocked(filter, &QueryOptions{})
		}
	}

	docs := make([]*document.Document, 0, len(c.order))
	for _, key := range c.order {
		docs = append(docs, c.documents[key].Clone())
	}
	return docs, nil
}

// snapshotLocked returns clones of all documents in insertion order. Caller
// holds at least the read lock.
func (c *Collection) snapshotLocked() []*document.Document {
	docs := make([]*document.Document, 0, len(c.order))
	for _, key := range c.order {
		docs = append(docs, c.documents[key].Clone())
	}
	return docs
}

// replaceAll swaps the collection contents for the given documents in one
// step, preserving the collection's index definitions. On any validation
// failure the previous contents stay in place.
func (c *Collection) replaceAll(docs []*document.Document) error {
	c.mu.RLock()
	type indexDef struct {
		fieldPaths []string
		unique     bool
	}
	defs := make([]indexDef, 0)
	for _, idx := range c.indexes.All() {
		if idx.Name() == index.IndexName([]string{"_id"}) {
			continue
		}
		defs = append(defs, indexDef{fieldPaths: idx.FieldPaths(), unique: idx.IsUnique()})
	}
	c.mu.RUnlock()

	staged := NewCollection(c.name)
	for _, def := range defs {
		if _, err := staged.indexes.Create(def.fieldPaths, def.unique); err != nil {
			return err
		}
	}
	for i, doc := range docs {
		if _, err := staged.insertLocked(doc); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.documents = staged.documents
	c.order = staged.order
	c.indexes = staged.indexes
	c.planner = query.NewPlanner(c.indexes)
	c.queryCache.Clear()
	return nil
}

// Stats returns collection statistics
func (c *Collection) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"name":      c.name,
		"documents": len(c.documents),
		"indexes":   c.indexes.Stats(),
		"cache":     c.queryCache.Stats(),
	}
}

func cloneDocs(docs []*document.Document) []*document.Document {
	clones := make([]*document.Document, len(docs))
	for i, doc := range docs {
		clones[i] = doc.Clone()
	}
	return clones
}

func mustID(doc *document.Document) interface{} {
	id, _ := doc.Get("_id")
	return id
}

func sortKeyPart(sortFields []query.SortField) []interface{} {
	if len(sortFields) == 0 {
		return nil
	}
	part := make([]interface{}, 0, len(sortFields))
	for _, field := range sortFields {
		part = append(part, map[string]interface{}{
			"field":     field.Field,
			"ascending": field.Ascending,
		})
	}
	return part
}
