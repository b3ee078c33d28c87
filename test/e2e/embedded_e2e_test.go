package e2e

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/mnohosten/nora-db/pkg/database"
	"github.com/mnohosten/nora-db/pkg/impex"
	"github.com/mnohosten/nora-db/pkg/query"
)

// TestEmbeddedFullWorkflow drives the full embedded/library workflow
func TestEmbeddedFullWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	db := database.New("e2e")

	t.Run("CollectionLifecycle", func(t *testing.T) {
		testCollectionLifecycle(t, db)
	})

	t.Run("DocumentCRUD", func(t *testing.T) {
		testDocumentCRUD(t, db)
	})

	t.Run("ComplexQueries", func(t *testing.T) {
		testComplexQueries(t, db)
	})

	t.Run("IndexedQueries", func(t *testing.T) {
		testIndexedQueries(t, db)
	})

	t.Run("AggregationWorkflow", func(t *testing.T) {
		testAggregationWorkflow(t, db)
	})

	t.Run("ConcurrentOperations", func(t *testing.T) {
		testConcurrentOperations(t, db)
	})

	t.Run("SnapshotRoundtrip", func(t *testing.T) {
		testSnapshotRoundtrip(t, db)
	})
}

func testCollectionLifecycle(t *testing.T, db *database.Database) {
	coll, err := db.CreateCollection("lifecycle_test")
	if err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}

	found := false
	for _, name := range db.ListCollections() {
		if name == "lifecycle_test" {
			found = true
			break
		}
	}
	if !found {
		t.Error("Collection not found in list")
	}

	stats := coll.Stats()
	if stats["name"] != "lifecycle_test" {
		t.Errorf("Expected collection name 'lifecycle_test', got %v", stats["name"])
	}

	if err := db.DropCollection("lifecycle_test"); err != nil {
		t.Errorf("Failed to drop collection: %v", err)
	}
}

func testDocumentCRUD(t *testing.T, db *database.Database) {
	coll, _ := db.CreateCollection("crud_test")
	defer db.DropCollection("crud_test")

	insertedID, err := coll.InsertOne(map[string]interface{}{
		"name":  "Alice",
		"age":   int64(28),
		"email": "alice@example.com",
		"tags":  []interface{}{"golang", "database", "developer"},
	})
	if err != nil {
		t.Fatalf("Failed to insert document: %v", err)
	}
	if insertedID == nil {
		t.Fatal("Expected a generated _id")
	}

	doc, err := coll.FindOne(map[string]interface{}{"_id": insertedID})
	if err != nil {
		t.Fatalf("Failed to find inserted document: %v", err)
	}
	if name, _ := doc.Get("name"); name != "Alice" {
		t.Errorf("Expected name Alice, got %v", name)
	}

	result, err := coll.UpdateOne(
		map[string]interface{}{"_id": insertedID},
		map[string]interface{}{"$set": map[string]interface{}{"age": int64(29)}},
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to update document: %v", err)
	}
	if result.ModifiedCount != 1 {
		t.Errorf("Expected 1 modified, got %d", result.ModifiedCount)
	}

	updated, _ := coll.FindOne(map[string]interface{}{"_id": insertedID})
	if age, _ := updated.Get("age"); age != int64(29) {
		t.Errorf("Expected age 29 after update, got %v", age)
	}

	deleted, err := coll.DeleteOne(map[string]interface{}{"_id": insertedID})
	if err != nil {
		t.Fatalf("Failed to delete document: %v", err)
	}
	if deleted.DeletedCount != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted.DeletedCount)
	}

	if n, _ := coll.Count(map[string]interface{}{}); n != 0 {
		t.Errorf("Expected empty collection, got %d documents", n)
	}
}

func testComplexQueries(t *testing.T, db *database.Database) {
	coll, _ := db.CreateCollection("query_test")
	defer db.DropCollection("query_test")

	coll.InsertMany([]map[string]interface{}{
		{"name": "Alice", "age": int64(28), "city": "Prague", "skills": []interface{}{"go", "sql"}},
		{"name": "Bob", "age": int64(35), "city": "Brno", "skills": []interface{}{"rust"}},
		{"name": "Carol", "age": int64(42), "city": "Prague", "skills": []interface{}{"go", "rust"}},
		{"name": "Dave", "age": int64(23), "city": "Ostrava"},
	})

	// $and over range and equality
	docs, err := coll.Find(map[string]interface{}{
		"$and": []interface{}{
			map[string]interface{}{"age": map[string]interface{}{"$gte": int64(25)}},
			map[string]interface{}{"city": "Prague"},
		},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 Prague adults, got %d", len(docs))
	}

	// Array membership
	docs, err = coll.Find(map[string]interface{}{"skills": "go"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 go developers, got %d", len(docs))
	}

	// $exists and sort options
	docs, err = coll.FindWithOptions(
		map[string]interface{}{"skills": map[string]interface{}{"$exists": true}},
		&database.QueryOptions{
			Sort:  []query.SortField{{Field: "age", Ascending: false}},
			Limit: 2,
		},
	)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}
	if name, _ := docs[0].Get("name"); name != "Carol" {
		t.Errorf("Expected oldest skilled user first, got %v", name)
	}
}

func testIndexedQueries(t *testing.T, db *database.Database) {
	coll, _ := db.CreateCollection("index_test")
	defer db.DropCollection("index_test")

	for i := 0; i < 100; i++ {
		coll.InsertOne(map[string]interface{}{
			"_id":    int64(i),
			"bucket": fmt.Sprintf("b%d", i%10),
			"value":  int64(i),
		})
	}

	if _, err := coll.CreateIndex([]string{"bucket"}, false); err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	explain := coll.Explain(map[string]interface{}{"bucket": "b3"})
	if explain["useIndex"] != true {
		t.Errorf("Expected an index-assisted plan, got %v", explain)
	}

	docs, err := coll.Find(map[string]interface{}{"bucket": "b3"})
	if err != nil {
		t.Fatalf("Indexed query failed: %v", err)
	}
	if len(docs) != 10 {
		t.Errorf("Expected 10 documents in bucket b3, got %d", len(docs))
	}

	// Index results come back in insertion order
	for i := 1; i < len(docs); i++ {
		prev, _ := docs[i-1].Get("value")
		curr, _ := docs[i].Get("value")
		if prev.(int64) >= curr.(int64) {
			t.Errorf("Documents out of insertion order: %v before %v", prev, curr)
		}
	}
}

func testAggregationWorkflow(t *testing.T, db *database.Database) {
	coll, _ := db.CreateCollection("orders")
	defer db.DropCollection("orders")
	defer db.DropCollection("order_totals")

	coll.InsertMany([]map[string]interface{}{
		{"customer": "acme", "total": int64(100), "items": []interface{}{"a", "b"}},
		{"customer": "acme", "total": int64(50), "items": []interface{}{"c"}},
		{"customer": "globex", "total": int64(75), "items": []interface{}{"a"}},
	})

	results, err := db.Aggregate("orders", []map[string]interface{}{
		{"$unwind": "$items"},
		{"$group": map[string]interface{}{
			"_id": "$items",
			"n":   map[string]interface{}{"$sum": 1},
		}},
		{"$sort": map[string]interface{}{"n": -1, "_id": 1}},
	})
	if err != nil {
		t.Fatalf("Aggregation failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 item groups, got %d", len(results))
	}
	top, _ := results[0].Get("_id")
	if top != "a" {
		t.Errorf("Expected item a on top, got %v", top)
	}

	// Materialize customer totals into another collection
	_, err = db.Aggregate("orders", []map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id":   "$customer",
			"total": map[string]interface{}{"$sum": "$total"},
		}},
		{"$out": "order_totals"},
	})
	if err != nil {
		t.Fatalf("$out aggregation failed: %v", err)
	}

	totals, err := db.GetCollection("order_totals")
	if err != nil {
		t.Fatalf("order_totals missing: %v", err)
	}
	acme, err := totals.FindOne(map[string]interface{}{"_id": "acme"})
	if err != nil {
		t.Fatalf("acme total missing: %v", err)
	}
	if total, _ := acme.Get("total"); total != int64(150) {
		t.Errorf("Expected acme total 150, got %v", total)
	}
}

func testConcurrentOperations(t *testing.T, db *database.Database) {
	coll, _ := db.CreateCollection("concurrent_test")
	defer db.DropCollection("concurrent_test")

	const writers = 8
	const docsPerWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < docsPerWriter; i++ {
				_, err := coll.InsertOne(map[string]interface{}{
					"writer": int64(w),
					"seq":    int64(i),
				})
				if err != nil {
					t.Errorf("Concurrent insert failed: %v", err)
					return
				}
			}
		}(w)
	}

	// Readers run alongside the writers
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := coll.Find(map[string]interface{}{"seq": int64(i)}); err != nil {
					t.Errorf("Concurrent read failed: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()

	if n, _ := coll.Count(map[string]interface{}{}); n != writers*docsPerWriter {
		t.Errorf("Expected %d documents, got %d", writers*docsPerWriter, n)
	}
}

func testSnapshotRoundtrip(t *testing.T, db *database.Database) {
	coll, _ := db.CreateCollection("snapshot_test")
	defer db.DropCollection("snapshot_test")

	coll.InsertMany([]map[string]interface{}{
		{"_id": int64(1), "name": "Alice"},
		{"_id": int64(2), "name": "Bob"},
	})
	if _, err := coll.CreateIndex([]string{"name"}, true); err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	var buf bytes.Buffer
	if err := impex.Export(db, &buf, &impex.ExportOptions{Compression: impex.CompressionZstd}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	restored := database.New("restored")
	if err := impex.Import(restored, &buf); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	restoredColl, err := restored.GetCollection("snapshot_test")
	if err != nil {
		t.Fatalf("Collection missing after import: %v", err)
	}
	if n, _ := restoredColl.Count(map[string]interface{}{}); n != 2 {
		t.Errorf("Expected 2 restored documents, got %d", n)
	}

	// The unique index came back with the data
	if _, err := restoredColl.InsertOne(map[string]interface{}{"_id": int64(3), "name": "Alice"}); err == nil {
		t.Error("Restored unique index should reject the duplicate")
	}
}
