package query

import (
	"sort"
	"testing"

	"github.com/mnohosten/nora-db/pkg/document"
	"github.com/mnohosten/nora-db/pkg/index"
)

func populatedManager(t *testing.T, docs []map[string]interface{}, fields ...string) (*index.Manager, []*document.Document) {
	t.Helper()
	m := index.NewManager()
	if _, err := m.Create(fields, false); err != nil {
		t.Fatalf("create index: %v", err)
	}

	stored := make([]*document.Document, 0, len(docs))
	for i, raw := range docs {
		d := document.NewDocumentFromMap(raw)
		if err := m.Apply(string(rune('a'+i)), nil, d); err != nil {
			t.Fatalf("apply: %v", err)
		}
		stored = append(stored, d)
	}
	return m, stored
}

func TestPlanCollectionScanWithoutIndex(t *testing.T) {
	p := NewPlanner(index.NewManager())

	plan := p.Plan(map[string]interface{}{"age": 30})
	if plan.UseIndex {
		t.Error("no index exists, expected a collection scan")
	}
	if plan.ScanType != ScanTypeCollection {
		t.Errorf("expected collection scan, got %v", plan.ScanType)
	}
}

func TestPlanExactMatch(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{
		{"age": 30}, {"age": 40}, {"age": 30},
	}, "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{"age": 30})
	if !plan.UseIndex || plan.ScanType != ScanTypeIndexExact {
		t.Fatalf("expected exact index scan, got %+v", plan)
	}

	ids := plan.CandidateIDs()
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("expected candidates a and c, got %v", ids)
	}
}

func TestPlanExplicitEq(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{{"age": 30}}, "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{
		"age": map[string]interface{}{"$eq": 30},
	})
	if !plan.UseIndex || plan.ScanType != ScanTypeIndexExact {
		t.Errorf("expected exact index scan for explicit $eq, got %+v", plan)
	}
}

func TestPlanRange(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{
		{"age": 20}, {"age": 30}, {"age": 40},
	}, "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{
		"age": map[string]interface{}{"$gte": 25, "$lte": 35},
	})
	if !plan.UseIndex || plan.ScanType != ScanTypeIndexRange {
		t.Fatalf("expected range scan, got %+v", plan)
	}
	if plan.ScanEnd != nil {
		t.Errorf("a doubly bounded filter must scan on one bound only, got end %v", plan.ScanEnd)
	}

	// The scan narrows by the lower bound; the upper bound is left to the
	// predicate re-check, so the boundary-exceeding candidate comes back too
	ids := plan.CandidateIDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Errorf("expected candidates [b c], got %v", ids)
	}
}

func TestPlanRangeCoversArrayElements(t *testing.T) {
	// One element can satisfy each bound: 5 fails $gte but "s9" passes it
	// (strings rank above numbers), so the document matches the filter while
	// no single index key lies between the two bounds
	m, _ := populatedManager(t, []map[string]interface{}{
		{"age": []interface{}{5, "s9"}},
	}, "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{
		"age": map[string]interface{}{"$gte": 10, "$lt": 30},
	})
	if plan.ScanType != ScanTypeIndexRange {
		t.Fatalf("expected range scan, got %+v", plan)
	}

	// Each array element keys the index separately, so the same id may come
	// back more than once; callers collapse the candidate set
	ids := plan.CandidateIDs()
	if len(ids) == 0 {
		t.Fatal("candidate set must cover the array document, got none")
	}
	for _, id := range ids {
		if id != "a" {
			t.Errorf("unexpected candidate %q in %v", id, ids)
		}
	}
}

func TestPlanStrictBoundsReturnSuperset(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{
		{"age": 30}, {"age": 40},
	}, "age")
	p := NewPlanner(m)

	// The scan is inclusive; the caller's predicate re-check trims the
	// boundary value
	plan := p.Plan(map[string]interface{}{
		"age": map[string]interface{}{"$gt": 30},
	})
	if plan.ScanType != ScanTypeIndexRange {
		t.Fatalf("expected range scan, got %+v", plan)
	}
	ids := plan.CandidateIDs()
	if len(ids) != 2 {
		t.Errorf("inclusive scan should return the boundary candidate too, got %v", ids)
	}
}

func TestPlanUnsupportedOperatorFallsBack(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{{"age": 30}}, "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{
		"age": map[string]interface{}{"$ne": 30},
	})
	if plan.UseIndex {
		t.Error("$ne cannot use an index")
	}

	plan = p.Plan(map[string]interface{}{"name": "A"})
	if plan.UseIndex {
		t.Error("unindexed field cannot use an index")
	}
}

func TestPlanCompoundFullEquality(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{
		{"city": "Prague", "age": 30},
		{"city": "Prague", "age": 40},
	}, "city", "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{"city": "Prague", "age": 30})
	if !plan.UseIndex || plan.ScanType != ScanTypeIndexExact {
		t.Fatalf("expected exact compound scan, got %+v", plan)
	}
	if ids := plan.CandidateIDs(); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("expected candidate a, got %v", ids)
	}
}

func TestPlanCompoundPrefix(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{
		{"city": "Prague", "age": 30},
		{"city": "Prague", "age": 40},
		{"city": "Brno", "age": 30},
	}, "city", "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{"city": "Prague"})
	if !plan.UseIndex || plan.ScanType != ScanTypeIndexPrefix {
		t.Fatalf("expected prefix scan, got %+v", plan)
	}
	if ids := plan.CandidateIDs(); len(ids) != 2 {
		t.Errorf("expected 2 Prague candidates, got %v", ids)
	}
}

func TestPlanCompoundTrailingFieldAloneFallsBack(t *testing.T) {
	m, _ := populatedManager(t, []map[string]interface{}{
		{"city": "Prague", "age": 30},
	}, "city", "age")
	p := NewPlanner(m)

	plan := p.Plan(map[string]interface{}{"age": 30})
	if plan.UseIndex {
		t.Error("a compound index cannot serve its trailing field alone")
	}
}

func TestPlanPrefersCheaperPlan(t *testing.T) {
	m := index.NewManager()
	m.Create([]string{"age"}, false)
	m.Create([]string{"city", "age"}, false)

	doc := document.NewDocumentFromMap(map[string]interface{}{"city": "Prague", "age": 30})
	m.Apply("a", nil, doc)

	p := NewPlanner(m)
	plan := p.Plan(map[string]interface{}{
		"city": "Prague",
		"age":  map[string]interface{}{"$gte": 20},
	})

	// Range on age costs more than a prefix on the compound index
	if plan.ScanType != ScanTypeIndexPrefix {
		t.Errorf("expected the cheaper prefix plan, got %+v", plan)
	}
}
