package database

import "testing"

func TestQueryOptionsFromMap(t *testing.T) {
	opts, err := QueryOptionsFromMap(map[string]interface{}{
		"projection": map[string]interface{}{"name": true, "_id": false},
		"sort": []interface{}{
			map[string]interface{}{"field": "age", "order": -1},
			map[string]interface{}{"field": "name"},
		},
		"limit": float64(10),
		"skip":  2,
	})
	if err != nil {
		t.Fatalf("decoding failed: %v", err)
	}

	if opts.Limit != 10 || opts.Skip != 2 {
		t.Errorf("expected limit=10 skip=2, got %+v", opts)
	}
	if len(opts.Sort) != 2 {
		t.Fatalf("expected 2 sort fields, got %d", len(opts.Sort))
	}
	if opts.Sort[0].Field != "age" || opts.Sort[0].Ascending {
		t.Errorf("expected age descending first, got %+v", opts.Sort[0])
	}
	if opts.Sort[1].Field != "name" || !opts.Sort[1].Ascending {
		t.Errorf("order defaults to ascending, got %+v", opts.Sort[1])
	}
	if !opts.Projection["name"] || opts.Projection["_id"] {
		t.Errorf("unexpected projection %v", opts.Projection)
	}
}

func TestQueryOptionsFromMapRejectsBadSort(t *testing.T) {
	cases := []map[string]interface{}{
		{"sort": []interface{}{map[string]interface{}{"order": 1}}},
		{"sort": []interface{}{map[string]interface{}{"field": "age", "order": 2}}},
		{"sort": []interface{}{map[string]interface{}{"field": "age", "order": "desc"}}},
	}
	for i, m := range cases {
		if _, err := QueryOptionsFromMap(m); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestUpdateOptionsFromMap(t *testing.T) {
	opts, err := UpdateOptionsFromMap(map[string]interface{}{"upsert": true})
	if err != nil {
		t.Fatalf("decoding failed: %v", err)
	}
	if !opts.Upsert {
		t.Error("expected upsert to decode")
	}

	// Weak typing accepts the string form a JSON command may carry
	opts, err = UpdateOptionsFromMap(map[string]interface{}{"upsert": "true"})
	if err != nil {
		t.Fatalf("decoding failed: %v", err)
	}
	if !opts.Upsert {
		t.Error("expected weakly typed upsert to decode")
	}
}
