package query

import (
	"sort"

	"github.com/mnohosten/nora-db/pkg/document"
)

// Query represents a compiled database query
type Query struct {
	filter     map[string]interface{}
	predicate  Predicate
	projection map[string]bool
	sort       []SortField
	limit      int
	skip       int
}

// SortField represents a field to sort by
type SortField struct {
	Field     string
	Ascending bool
}

// NewQuery compiles a filter into a query. An empty filter matches all
// documents.
func NewQuery(filter map[string]interface{}) (*Query, error) {
	q := &Query{filter: filter}

	if len(filter) > 0 {
		pred, err := Compile(filter)
		if err != nil {
			return nil, err
		}
		q.predicate = pred
	}

	return q, nil
}

// WithProjection sets the projection
func (q *Query) WithProjection(projection map[string]bool) *Query {
	q.projection = projection
	return q
}

// WithSort sets the sort order
func (q *Query) WithSort(fields []SortField) *Query {
	q.sort = fields
	return q
}

// WithLimit sets the limit
func (q *Query) WithLimit(limit int) *Query {
	q.limit = limit
	return q
}

// WithSkip sets the skip
func (q *Query) WithSkip(skip int) *Query {
	q.skip = skip
	return q
}

// Matches checks if a document matches the query filter
func (q *Query) Matches(doc *document.Document) bool {
	if q.predicate == nil {
		return true
	}
	return q.predicate.Matches(doc)
}

// SortDocuments stable-sorts documents by the given sort fields using the
// engine's total value order; missing fields sort as null
func SortDocuments(docs []*document.Document, sortFields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range sortFields {
			vi, _ := docs[i].LookupPath(field.Field)
			vj, _ := docs[j].LookupPath(field.Field)

			cmp := document.Compare(vi, vj)
			if cmp != 0 {
				if field.Ascending {
					return cmp < 0
				}
				return cmp > 0
			}
		}
		return false
	})
}

// ApplyProjection applies the projection to a document, returning a new
// document. Nil or empty projections return the document unchanged.
func (q *Query) ApplyProjection(doc *document.Document) *document.Document {
	if len(q.projection) == 0 {
		return doc
	}

	result := document.NewDocument()

	// Determine if this is an inclusion or exclusion projection
	isInclusion := false
	for field, include := range q.projection {
		if field == "_id" {
			continue
		}
		if include {
			isInclusion = true
			break
		}
	}

	if isInclusion {
		// _id is included unless explicitly excluded
		if excl, listed := q.projection["_id"]; !listed || excl {
			if value, exists := doc.Get("_id"); exists {
				result.Set("_id", value)
			}
		}
		for _, key := range doc.Keys() {
			if key == "_id" {
				continue
			}
			if include, listed := q.projection[key]; listed && include {
				if value, exists := doc.Get(key); exists {
					result.Set(key, value)
				}
			}
		}
	} else {
		for _, key := range doc.Keys() {
			if include, listed := q.projection[key]; listed && !include {
				continue
			}
			if value, exists := doc.Get(key); exists {
				result.Set(key, value)
			}
		}
	}

	return result
}

// EqualityFields extracts the top-level equality constraints of a filter,
// used to seed upserted documents. Operator objects contribute only their
// $eq value.
func EqualityFields(filter map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{})

	for key, value := range filter {
		if len(key) > 0 && key[0] == '$' {
			continue
		}

		if opMap, ok := value.(map[string]interface{}); ok && hasOperatorKeys(opMap) {
			if eqValue, hasEq := opMap["$eq"]; hasEq {
				fields[key] = eqValue
			}
			continue
		}

		fields[key] = value
	}

	return fields
}

// GetFilter returns the filter
func (q *Query) GetFilter() map[string]interface{} {
	return q.filter
}

// GetLimit returns the limit
func (q *Query) GetLimit() int {
	return q.limit
}

// GetSkip returns the skip
func (q *Query) GetSkip() int {
	return q.skip
}

// GetSort returns the sort fields
func (q *Query) GetSort() []SortField {
	return q.sort
}

// GetProjection returns the projection
func (q *Query) GetProjection() map[string]bool {
	return q.projection
}
