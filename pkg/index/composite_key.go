package index

import (
	"fmt"

	"github.com/mnohosten/nora-db/pkg/document"
)

// CompositeKey represents a key composed of multiple field values.
// Used for compound indexes on multiple fields.
type CompositeKey struct {
	Values []interface{} // Field values in index field order
}

// NewCompositeKey creates a new composite key from multiple values
func NewCompositeKey(values ...interface{}) *CompositeKey {
	normalized := make([]interface{}, len(values))
	for i, v := range values {
		normalized[i] = document.Normalize(v)
	}
	return &CompositeKey{
		Values: normalized,
	}
}

// Compare compares two composite keys field by field.
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func (ck *CompositeKey) Compare(other *CompositeKey) int {
	minLen := len(ck.Values)
	if len(other.Values) < minLen {
		minLen = len(other.Values)
	}

	for i := 0; i < minLen; i++ {
		cmp := document.Compare(ck.Values[i], other.Values[i])
		if cmp != 0 {
			return cmp // First different field determines order
		}
	}

	// All compared fields are equal, check length
	if len(ck.Values) < len(other.Values) {
		return -1
	} else if len(ck.Values) > len(other.Values) {
		return 1
	}

	return 0
}

// MatchesPrefix checks if this composite key matches a prefix.
// Used for queries that only constrain the leading fields of a compound
// index, e.g. an index on [city, age] queried on city alone.
func (ck *CompositeKey) MatchesPrefix(prefix *CompositeKey) bool {
	if len(prefix.Values) > len(ck.Values) {
		return false
	}

	for i := 0; i < len(prefix.Values); i++ {
		if document.Compare(ck.Values[i], prefix.Values[i]) != 0 {
			return false
		}
	}

	return true
}

// String returns a string representation of the composite key
func (ck *CompositeKey) String() string {
	return fmt.Sprintf("%v", ck.Values)
}
