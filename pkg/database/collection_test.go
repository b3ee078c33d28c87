package database

import (
	"errors"
	"strings"
	"testing"

	"github.com/mnohosten/nora-db/pkg/document"
	"github.com/mnohosten/nora-db/pkg/query"
	"github.com/mnohosten/nora-db/pkg/update"
)

func seedUsers(t *testing.T) *Collection {
	t.Helper()
	coll := NewCollection("users")
	users := []map[string]interface{}{
		{"_id": 1, "name": "Alice", "age": 30, "city": "Prague"},
		{"_id": 2, "name": "Bob", "age": 25, "city": "Brno"},
		{"_id": 3, "name": "Carol", "age": 35, "city": "Prague"},
		{"_id": 4, "name": "Dave", "age": 25, "city": "Ostrava"},
	}
	if _, err := coll.InsertMany(users); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	return coll
}

func TestInsertGeneratesObjectID(t *testing.T) {
	coll := NewCollection("test")

	id, err := coll.InsertOne(map[string]interface{}{"name": "Alice"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, ok := id.(document.ObjectID); !ok {
		t.Fatalf("expected a generated ObjectID, got %T", id)
	}

	doc, err := coll.FindOne(map[string]interface{}{"name": "Alice"})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	keys := doc.Keys()
	if len(keys) == 0 || keys[0] != "_id" {
		t.Errorf("_id should lead the field order, got %v", keys)
	}
}

func TestInsertKeepsExplicitID(t *testing.T) {
	coll := NewCollection("test")

	id, err := coll.InsertOne(map[string]interface{}{"_id": "user-1", "name": "Alice"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if id != "user-1" {
		t.Errorf("expected explicit _id back, got %v", id)
	}
}

func TestInsertDuplicateID(t *testing.T) {
	coll := NewCollection("test")

	if _, err := coll.InsertOne(map[string]interface{}{"_id": 5}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err := coll.InsertOne(map[string]interface{}{"_id": 5})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}

	// _id uniqueness follows value equality across numeric types
	_, err = coll.InsertOne(map[string]interface{}{"_id": 5.0})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID for 5.0 after 5, got %v", err)
	}
}

func TestInsertTooLarge(t *testing.T) {
	coll := NewCollection("test")

	_, err := coll.InsertOne(map[string]interface{}{
		"blob": strings.Repeat("x", document.MaxDocumentSize+1),
	})
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Errorf("expected ErrDocumentTooLarge, got %v", err)
	}
}

func TestInsertManyStopsAtFailure(t *testing.T) {
	coll := NewCollection("test")

	ids, err := coll.InsertMany([]map[string]interface{}{
		{"_id": 1},
		{"_id": 1},
		{"_id": 2},
	})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected 1 inserted id before the failure, got %d", len(ids))
	}
	if n, _ := coll.Count(map[string]interface{}{}); n != 1 {
		t.Errorf("document after the failure must not be inserted, got %d documents", n)
	}
}

func TestFindInsertionOrder(t *testing.T) {
	coll := seedUsers(t)

	docs, err := coll.Find(map[string]interface{}{"city": "Prague"})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	first, _ := docs[0].Get("_id")
	second, _ := docs[1].Get("_id")
	if first != int64(1) || second != int64(3) {
		t.Errorf("expected insertion order [1 3], got [%v %v]", first, second)
	}
}

func TestFindOneNotFound(t *testing.T) {
	coll := seedUsers(t)

	_, err := coll.FindOne(map[string]interface{}{"name": "Zed"})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestFindWithSortSkipLimit(t *testing.T) {
	coll := seedUsers(t)

	docs, err := coll.FindWithOptions(map[string]interface{}{}, &QueryOptions{
		Sort:  []query.SortField{{Field: "age", Ascending: true}},
		Skip:  1,
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	// ages sorted are 25, 25, 30, 35; skip 1 then limit 2 gives 25, 30
	firstAge, _ := docs[0].Get("age")
	secondAge, _ := docs[1].Get("age")
	if firstAge != int64(25) || secondAge != int64(30) {
		t.Errorf("expected ages [25 30], got [%v %v]", firstAge, secondAge)
	}

	// The sort is stable, so the second 25 in insertion order survives skip
	firstID, _ := docs[0].Get("_id")
	if firstID != int64(4) {
		t.Errorf("stable sort should keep Dave second among the 25s, got _id %v", firstID)
	}
}

func TestFindWithProjection(t *testing.T) {
	coll := seedUsers(t)

	docs, err := coll.FindWithOptions(map[string]interface{}{"_id": 1}, &QueryOptions{
		Projection: map[string]bool{"name": true},
	})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	doc := docs[0]
	if !doc.Has("name") || !doc.Has("_id") {
		t.Errorf("expected name plus default _id, got %v", doc.Keys())
	}
	if doc.Has("age") {
		t.Error("unlisted field should be dropped")
	}
}

func TestFindResultsAreCopies(t *testing.T) {
	coll := seedUsers(t)

	docs, err := coll.Find(map[string]interface{}{"_id": 1})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	docs[0].Set("name", "Mallory")

	again, err := coll.Find(map[string]interface{}{"_id": 1})
	if err != nil {
		t.Fatalf("second find failed: %v", err)
	}
	if name, _ := again[0].Get("name"); name != "Alice" {
		t.Errorf("mutating a result must not touch the stored document, got %v", name)
	}
}

func TestIndexedFindMatchesScan(t *testing.T) {
	indexed := seedUsers(t)
	if _, err := indexed.CreateIndex([]string{"city"}, false); err != nil {
		t.Fatalf("creating index: %v", err)
	}
	plain := seedUsers(t)

	filters := []map[string]interface{}{
		{"city": "Prague"},
		{"city": map[string]interface{}{"$gt": "B"}},
		{"city": map[string]interface{}{"$in": []interface{}{"Brno", "Ostrava"}}},
	}
	for _, filter := range filters {
		fromIndex, err := indexed.Find(filter)
		if err != nil {
			t.Fatalf("indexed find failed: %v", err)
		}
		fromScan, err := plain.Find(filter)
		if err != nil {
			t.Fatalf("scan find failed: %v", err)
		}
		if len(fromIndex) != len(fromScan) {
			t.Fatalf("filter %v: index returned %d docs, scan %d", filter, len(fromIndex), len(fromScan))
		}
		for i := range fromIndex {
			if !document.Equals(fromIndex[i], fromScan[i]) {
				t.Errorf("filter %v: document %d differs between index and scan", filter, i)
			}
		}
	}

	explain := indexed.Explain(map[string]interface{}{"city": "Prague"})
	if explain["useIndex"] != true {
		t.Errorf("expected the planner to pick the city index: %v", explain)
	}
}

func TestIndexedRangeMatchesScanOnArrays(t *testing.T) {
	indexed := NewCollection("readings")
	plain := NewCollection("readings")
	docs := []map[string]interface{}{
		// Matches through two different elements: "s9" passes $gte (strings
		// order above numbers) and 5 passes $lt
		{"_id": 1, "k": []interface{}{5, "s9"}},
		{"_id": 2, "k": 15},
		{"_id": 3, "k": 42},
		{"_id": 4, "k": 5},
	}
	for _, coll := range []*Collection{indexed, plain} {
		if _, err := coll.InsertMany(docs); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}
	if _, err := indexed.CreateIndex([]string{"k"}, false); err != nil {
		t.Fatalf("creating index: %v", err)
	}

	filter := map[string]interface{}{
		"k": map[string]interface{}{"$gte": 10, "$lt": 30},
	}
	fromIndex, err := indexed.Find(filter)
	if err != nil {
		t.Fatalf("indexed find failed: %v", err)
	}
	fromScan, err := plain.Find(filter)
	if err != nil {
		t.Fatalf("scan find failed: %v", err)
	}
	if len(fromIndex) != len(fromScan) {
		t.Fatalf("index returned %d docs, scan %d", len(fromIndex), len(fromScan))
	}
	for i := range fromIndex {
		if !document.Equals(fromIndex[i], fromScan[i]) {
			t.Errorf("document %d differs between index and scan", i)
		}
	}
	if len(fromIndex) != 2 {
		t.Errorf("expected 2 matches, got %d", len(fromIndex))
	}
}

func TestUpdateOneCounts(t *testing.T) {
	coll := seedUsers(t)

	result, err := coll.UpdateOne(
		map[string]interface{}{"city": "Prague"},
		map[string]interface{}{"$set": map[string]interface{}{"active": true}},
		nil,
	)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.MatchedCount != 1 || result.ModifiedCount != 1 {
		t.Errorf("expected matched=1 modified=1, got %+v", result)
	}

	if n, _ := coll.Count(map[string]interface{}{"active": true}); n != 1 {
		t.Errorf("expected exactly one document updated, got %d", n)
	}
}

func TestUpdateManyCounts(t *testing.T) {
	coll := seedUsers(t)

	result, err := coll.UpdateMany(
		map[string]interface{}{"age": 25},
		map[string]interface{}{"$inc": map[string]interface{}{"age": 1}},
		nil,
	)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.MatchedCount != 2 || result.ModifiedCount != 2 {
		t.Errorf("expected matched=2 modified=2, got %+v", result)
	}
}

func TestUpdateNoOpNotCountedModified(t *testing.T) {
	coll := seedUsers(t)

	result, err := coll.UpdateOne(
		map[string]interface{}{"_id": 1},
		map[string]interface{}{"$set": map[string]interface{}{"name": "Alice"}},
		nil,
	)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.MatchedCount != 1 || result.ModifiedCount != 0 {
		t.Errorf("setting the existing value should match without modifying, got %+v", result)
	}
}

func TestUpdateImmutableID(t *testing.T) {
	coll := seedUsers(t)

	_, err := coll.UpdateOne(
		map[string]interface{}{"_id": 1},
		map[string]interface{}{"$set": map[string]interface{}{"_id": 99}},
		nil,
	)
	if !errors.Is(err, update.ErrImmutableID) {
		t.Errorf("expected ErrImmutableID, got %v", err)
	}

	if _, findErr := coll.FindOne(map[string]interface{}{"_id": 1}); findErr != nil {
		t.Error("failed update must leave the document in place")
	}
}

func TestUpsertInsertsWhenNoMatch(t *testing.T) {
	coll := seedUsers(t)

	result, err := coll.UpdateOne(
		map[string]interface{}{"name": "Eve", "city": "Plzen"},
		map[string]interface{}{
			"$set":         map[string]interface{}{"age": 28},
			"$setOnInsert": map[string]interface{}{"joined": "2026"},
		},
		&UpdateOptions{Upsert: true},
	)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if result.MatchedCount != 0 || result.UpsertedID == nil {
		t.Fatalf("expected an upsert, got %+v", result)
	}

	doc, err := coll.FindOne(map[string]interface{}{"name": "Eve"})
	if err != nil {
		t.Fatalf("upserted document not found: %v", err)
	}
	if city, _ := doc.Get("city"); city != "Plzen" {
		t.Errorf("filter equality fields should seed the document, got city %v", city)
	}
	if age, _ := doc.Get("age"); age != int64(28) {
		t.Errorf("expected $set applied, got age %v", age)
	}
	if joined, _ := doc.Get("joined"); joined != "2026" {
		t.Errorf("expected $setOnInsert applied on insert, got %v", joined)
	}
}

func TestUpsertSkippedWhenMatched(t *testing.T) {
	coll := seedUsers(t)

	result, err := coll.UpdateOne(
		map[string]interface{}{"name": "Alice"},
		map[string]interface{}{"$setOnInsert": map[string]interface{}{"joined": "2026"}},
		&UpdateOptions{Upsert: true},
	)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.UpsertedID != nil {
		t.Errorf("matched update must not upsert, got %+v", result)
	}

	doc, _ := coll.FindOne(map[string]interface{}{"name": "Alice"})
	if doc.Has("joined") {
		t.Error("$setOnInsert must not apply to an existing document")
	}
}

func TestUpdateUniqueIndexViolation(t *testing.T) {
	coll := seedUsers(t)
	if _, err := coll.CreateIndex([]string{"name"}, true); err != nil {
		t.Fatalf("creating unique index: %v", err)
	}

	_, err := coll.UpdateOne(
		map[string]interface{}{"_id": 2},
		map[string]interface{}{"$set": map[string]interface{}{"name": "Alice"}},
		nil,
	)
	if err == nil {
		t.Fatal("expected a unique violation")
	}

	doc, _ := coll.FindOne(map[string]interface{}{"_id": 2})
	if name, _ := doc.Get("name"); name != "Bob" {
		t.Errorf("failed update must leave the document unchanged, got %v", name)
	}
}

func TestDeleteOne(t *testing.T) {
	coll := seedUsers(t)

	result, err := coll.DeleteOne(map[string]interface{}{"city": "Prague"})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("expected 1 deleted, got %d", result.DeletedCount)
	}
	if n, _ := coll.Count(map[string]interface{}{"city": "Prague"}); n != 1 {
		t.Errorf("expected one Prague document left, got %d", n)
	}
}

func TestDeleteMany(t *testing.T) {
	coll := seedUsers(t)

	result, err := coll.DeleteMany(map[string]interface{}{"age": 25})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if result.DeletedCount != 2 {
		t.Errorf("expected 2 deleted, got %d", result.DeletedCount)
	}
	if n, _ := coll.Count(map[string]interface{}{}); n != 2 {
		t.Errorf("expected 2 documents left, got %d", n)
	}
}

func TestFindOneAndDelete(t *testing.T) {
	coll := seedUsers(t)

	doc, err := coll.FindOneAndDelete(map[string]interface{}{"city": "Prague"})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if name, _ := doc.Get("name"); name != "Alice" {
		t.Errorf("expected the first Prague document back, got %v", name)
	}
	if n, _ := coll.Count(map[string]interface{}{"city": "Prague"}); n != 1 {
		t.Errorf("expected one Prague document left, got %d", n)
	}

	if _, err := coll.FindOneAndDelete(map[string]interface{}{"name": "Zed"}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDeletedDocumentLeavesIndexes(t *testing.T) {
	coll := seedUsers(t)
	if _, err := coll.CreateIndex([]string{"name"}, true); err != nil {
		t.Fatalf("creating index: %v", err)
	}

	if _, err := coll.DeleteOne(map[string]interface{}{"name": "Alice"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// The name is free again for the unique index
	if _, err := coll.InsertOne(map[string]interface{}{"_id": 10, "name": "Alice"}); err != nil {
		t.Errorf("reinserting a deleted unique value should succeed: %v", err)
	}
}

func TestCreateIndexBackfillFailureDropsIndex(t *testing.T) {
	coll := NewCollection("test")
	coll.InsertOne(map[string]interface{}{"_id": 1, "email": "a@example.com"})
	coll.InsertOne(map[string]interface{}{"_id": 2, "email": "a@example.com"})

	if _, err := coll.CreateIndex([]string{"email"}, true); err == nil {
		t.Fatal("expected backfill to fail on the duplicate value")
	}

	// Only the _id index remains
	if indexes := coll.ListIndexes(); len(indexes) != 1 {
		t.Errorf("half-built index must be dropped, got %d indexes", len(indexes))
	}
}

func TestDropIndex(t *testing.T) {
	coll := seedUsers(t)
	name, err := coll.CreateIndex([]string{"city"}, false)
	if err != nil {
		t.Fatalf("creating index: %v", err)
	}

	if err := coll.DropIndex(name); err != nil {
		t.Fatalf("dropping index: %v", err)
	}
	if err := coll.DropIndex("_id_1"); err == nil {
		t.Error("the _id index must not be droppable")
	}
}

func TestWritesInvalidateCachedReads(t *testing.T) {
	coll := seedUsers(t)
	filter := map[string]interface{}{"city": "Prague"}

	before, err := coll.Find(filter)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}

	if _, err := coll.InsertOne(map[string]interface{}{"_id": 5, "name": "Eve", "city": "Prague"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	after, err := coll.Find(filter)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Errorf("read after write must see the new document, got %d then %d", len(before), len(after))
	}
}
