package update

import (
	"fmt"
	"sort"
	"time"

	"github.com/mnohosten/nora-db/pkg/document"
	"github.com/mnohosten/nora-db/pkg/query"
)

// Operator application order. Each phase runs to completion before the next;
// field order within a phase is sorted for determinism.
var phases = [][]string{
	{"$rename"},
	{"$set", "$setOnInsert"},
	{"$unset"},
	{"$inc", "$mul", "$min", "$max"},
	{"$currentDate"},
	{"$push", "$pull", "$pop", "$pullAll", "$addToSet"},
	{"$bit"},
}

// Apply applies an update specification to a copy of doc and returns the new
// document; the original is never modified, so callers can diff before
// committing. Keys without a $ prefix are direct field sets. onInsert enables
// $setOnInsert for upserted documents.
func Apply(doc *document.Document, spec map[string]interface{}, onInsert bool) (*document.Document, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	result := doc.Clone()

	for _, phase := range phases {
		for _, op := range phase {
			args, present := spec[op]
			if !present {
				continue
			}
			fields, ok := args.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s requires an object: %w", op, query.ErrInvalidOperator)
			}
			if err := applyOperator(result, op, fields, onInsert); err != nil {
				return nil, err
			}
		}
	}

	// Direct field sets, after all operators
	for _, key := range sortedKeys(spec) {
		if len(key) > 0 && key[0] == '$' {
			continue
		}
		result.Set(key, spec[key])
	}

	if oldID, had := doc.Get("_id"); had {
		newID, has := result.Get("_id")
		if !has || !document.Equals(oldID, newID) {
			return nil, ErrImmutableID
		}
	}

	return result, nil
}

// Validate rejects specifications with unknown operators without applying
// anything. Callers that update many documents validate once up front.
func Validate(spec map[string]interface{}) error {
	return validateSpec(spec)
}

// validateSpec rejects unknown operators before anything is applied
func validateSpec(spec map[string]interface{}) error {
	known := make(map[string]bool)
	for _, phase := range phases {
		for _, op := range phase {
			known[op] = true
		}
	}

	for key := range spec {
		if len(key) > 0 && key[0] == '$' && !known[key] {
			return fmt.Errorf("unsupported update operator %s: %w", key, query.ErrInvalidOperator)
		}
	}
	return nil
}

func applyOperator(doc *document.Document, op string, fields map[string]interface{}, onInsert bool) error {
	for _, field := range sortedKeys(fields) {
		arg := fields[field]

		var err error
		switch op {
		case "$rename":
			err = applyRename(doc, field, arg)
		case "$set":
			doc.SetPath(field, arg)
		case "$setOnInsert":
			if onInsert {
				doc.SetPath(field, arg)
			}
		case "$unset":
			doc.DeletePath(field)
		case "$inc":
			err = applyArithmetic(doc, field, arg, false)
		case "$mul":
			err = applyArithmetic(doc, field, arg, true)
		case "$min":
			err = applyMinMax(doc, field, arg, true)
		case "$max":
			err = applyMinMax(doc, field, arg, false)
		case "$currentDate":
			err = applyCurrentDate(doc, field, arg)
		case "$push":
			err = applyPush(doc, field, arg)
		case "$pull":
			// The argument is either a literal or a condition object; both
			// evaluate through the filter compiler against each element
			pq, qerr := query.NewQuery(map[string]interface{}{"v": arg})
			if qerr != nil {
				err = qerr
				break
			}
			wrapper := document.NewDocument()
			err = applyPull(doc, field, func(elem interface{}) bool {
				wrapper.Set("v", elem)
				return pq.Matches(wrapper)
			})
		case "$pop":
			err = applyPop(doc, field, arg)
		case "$pullAll":
			err = applyPullAll(doc, field, arg)
		case "$addToSet":
			err = applyAddToSet(doc, field, arg)
		case "$bit":
			err = applyBit(doc, field, arg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applyRename moves a field to a new path. A missing source is a no-op.
func applyRename(doc *document.Document, field string, arg interface{}) error {
	newPath, ok := arg.(string)
	if !ok || newPath == "" {
		return fmt.Errorf("$rename target for %s must be a non-empty string: %w", field, query.ErrInvalidOperator)
	}

	value, exists := doc.LookupPath(field)
	if !exists {
		return nil
	}

	doc.DeletePath(field)
	doc.SetPath(newPath, value)
	return nil
}

// applyArithmetic handles $inc and $mul
func applyArithmetic(doc *document.Document, field string, arg interface{}, multiply bool) error {
	arg = document.Normalize(arg)
	if !document.IsNumeric(arg) {
		return fmt.Errorf("%s argument for %s is not numeric: %w", opName(multiply), field, ErrTypeMismatch)
	}

	current, exists := doc.LookupPath(field)
	if !exists {
		// $inc treats a missing field as 0 of the operand's type; $mul
		// creates the field as zero
		if multiply {
			doc.SetPath(field, zeroLike(arg))
		} else {
			doc.SetPath(field, arg)
		}
		return nil
	}

	current = document.Normalize(current)
	if !document.IsNumeric(current) {
		return fmt.Errorf("%s on non-numeric field %s (%s): %w",
			opName(multiply), field, document.TypeOf(current), ErrTypeMismatch)
	}

	ci, cInt := current.(int64)
	ai, aInt := arg.(int64)
	if cInt && aInt {
		if multiply {
			doc.SetPath(field, ci*ai)
		} else {
			doc.SetPath(field, ci+ai)
		}
		return nil
	}

	cf := asFloat(current)
	af := asFloat(arg)
	if multiply {
		doc.SetPath(field, cf*af)
	} else {
		doc.SetPath(field, cf+af)
	}
	return nil
}

func opName(multiply bool) string {
	if multiply {
		return "$mul"
	}
	return "$inc"
}

func zeroLike(v interface{}) interface{} {
	if _, isInt := v.(int64); isInt {
		return int64(0)
	}
	return float64(0)
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// applyMinMax updates the field when the argument orders before (min) or
// after (max) the current value. A missing field takes the argument.
func applyMinMax(doc *document.Document, field string, arg interface{}, min bool) error {
	current, exists := doc.LookupPath(field)
	if !exists {
		doc.SetPath(field, arg)
		return nil
	}

	cmp := document.Compare(arg, current)
	if (min && cmp < 0) || (!min && cmp > 0) {
		doc.SetPath(field, arg)
	}
	return nil
}

// applyCurrentDate sets the field to the current date, or to a unix-seconds
// timestamp when requested via {$type: "timestamp"}
func applyCurrentDate(doc *document.Document, field string, arg interface{}) error {
	useTimestamp := false
	switch spec := arg.(type) {
	case bool:
		if !spec {
			return nil
		}
	case map[string]interface{}:
		typeName, ok := spec["$type"].(string)
		if !ok || (typeName != "date" && typeName != "timestamp") {
			return fmt.Errorf("$currentDate type for %s must be \"date\" or \"timestamp\": %w", field, query.ErrInvalidOperator)
		}
		useTimestamp = typeName == "timestamp"
	default:
		return fmt.Errorf("$currentDate for %s requires true or a $type object: %w", field, query.ErrInvalidOperator)
	}

	if useTimestamp {
		doc.SetPath(field, time.Now().Unix())
	} else {
		doc.SetPath(field, time.Now())
	}
	return nil
}

// applyPush appends to an array field. With $each the modifiers compose in
// the fixed order: insert at $position, then $sort, then $slice.
func applyPush(doc *document.Document, field string, arg interface{}) error {
	values := []interface{}{arg}
	position := -1 // Append
	sortSpec := interface{}(nil)
	sliceBound := interface{}(nil)

	if modMap, isMap := arg.(map[string]interface{}); isMap && hasModifier(modMap) {
		eachValues, hasEach := modMap["$each"]
		if !hasEach {
			return fmt.Errorf("$push modifiers for %s require $each: %w", field, query.ErrInvalidOperator)
		}
		eachArr, ok := eachValues.([]interface{})
		if !ok {
			return fmt.Errorf("$each for %s requires an array: %w", field, query.ErrInvalidOperator)
		}
		values = eachArr

		for mod, modValue := range modMap {
			switch mod {
			case "$each":
			case "$position":
				p, ok := document.Normalize(modValue).(int64)
				if !ok || p < 0 {
					return fmt.Errorf("$position for %s requires a non-negative integer: %w", field, query.ErrInvalidOperator)
				}
				position = int(p)
			case "$sort":
				sortSpec = modValue
			case "$slice":
				if _, ok := document.Normalize(modValue).(int64); !ok {
					return fmt.Errorf("$slice for %s requires an integer: %w", field, query.ErrInvalidOperator)
				}
				sliceBound = document.Normalize(modValue)
			default:
				return fmt.Errorf("unknown $push modifier %s for %s: %w", mod, field, query.ErrInvalidOperator)
			}
		}
	}

	arr, err := arrayField(doc, field)
	if err != nil {
		return err
	}

	// Insert at position
	if position < 0 || position >= len(arr) {
		arr = append(arr, normalizeAll(values)...)
	} else {
		tail := append([]interface{}{}, arr[position:]...)
		arr = append(append(arr[:position], normalizeAll(values)...), tail...)
	}

	// Sort if requested
	if sortSpec != nil {
		if err := sortArray(arr, sortSpec); err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
	}

	// Slice to the final bound; negative keeps the last n elements
	if sliceBound != nil {
		n := int(sliceBound.(int64))
		switch {
		case n == 0:
			arr = []interface{}{}
		case n > 0 && n < len(arr):
			arr = arr[:n]
		case n < 0 && -n < len(arr):
			arr = arr[len(arr)+n:]
		}
	}

	doc.SetPath(field, arr)
	return nil
}

func hasModifier(m map[string]interface{}) bool {
	for k := range m {
		switch k {
		case "$each", "$position", "$sort", "$slice":
			return true
		}
	}
	return false
}

func normalizeAll(values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = document.Normalize(v)
	}
	return out
}

// sortArray sorts in place: 1/-1 sorts whole elements, a document spec sorts
// document elements by the named fields
func sortArray(arr []interface{}, spec interface{}) error {
	switch s := document.Normalize(spec).(type) {
	case int64:
		if s != 1 && s != -1 {
			return fmt.Errorf("$sort requires 1, -1, or a field specification: %w", query.ErrInvalidOperator)
		}
		sort.SliceStable(arr, func(i, j int) bool {
			cmp := document.Compare(arr[i], arr[j])
			if s > 0 {
				return cmp < 0
			}
			return cmp > 0
		})
		return nil
	case *document.Document:
		sort.SliceStable(arr, func(i, j int) bool {
			for _, field := range s.Keys() {
				direction, _ := s.Get(field)
				asc := true
				if d, isInt := document.Normalize(direction).(int64); isInt && d < 0 {
					asc = false
				}

				var vi, vj interface{}
				if di, isDoc := arr[i].(*document.Document); isDoc {
					vi, _ = di.LookupPath(field)
				}
				if dj, isDoc := arr[j].(*document.Document); isDoc {
					vj, _ = dj.LookupPath(field)
				}

				cmp := document.Compare(vi, vj)
				if cmp != 0 {
					if asc {
						return cmp < 0
					}
					return cmp > 0
				}
			}
			return false
		})
		return nil
	default:
		return fmt.Errorf("$sort requires 1, -1, or a field specification: %w", query.ErrInvalidOperator)
	}
}

// applyPull removes all elements satisfying keep's negation
func applyPull(doc *document.Document, field string, remove func(interface{}) bool) error {
	current, exists := doc.LookupPath(field)
	if !exists {
		return nil
	}
	arr, isArr := document.Normalize(current).([]interface{})
	if !isArr {
		return fmt.Errorf("$pull on non-array field %s: %w", field, ErrTypeMismatch)
	}

	kept := make([]interface{}, 0, len(arr))
	for _, elem := range arr {
		if !remove(elem) {
			kept = append(kept, elem)
		}
	}
	doc.SetPath(field, kept)
	return nil
}

// applyPop removes the first (-1) or last (1) element
func applyPop(doc *document.Document, field string, arg interface{}) error {
	direction, ok := document.Normalize(arg).(int64)
	if !ok || (direction != 1 && direction != -1) {
		return fmt.Errorf("$pop for %s requires 1 or -1: %w", field, query.ErrInvalidOperator)
	}

	current, exists := doc.LookupPath(field)
	if !exists {
		return nil
	}
	arr, isArr := document.Normalize(current).([]interface{})
	if !isArr {
		return fmt.Errorf("$pop on non-array field %s: %w", field, ErrTypeMismatch)
	}
	if len(arr) == 0 {
		return nil
	}

	if direction < 0 {
		doc.SetPath(field, arr[1:])
	} else {
		doc.SetPath(field, arr[:len(arr)-1])
	}
	return nil
}

// applyPullAll removes every instance of the listed values
func applyPullAll(doc *document.Document, field string, arg interface{}) error {
	values, ok := document.Normalize(arg).([]interface{})
	if !ok {
		return fmt.Errorf("$pullAll for %s requires an array: %w", field, query.ErrInvalidOperator)
	}

	return applyPull(doc, field, func(elem interface{}) bool {
		for _, v := range values {
			if document.Equals(elem, v) {
				return true
			}
		}
		return false
	})
}

// applyAddToSet appends values not already present
func applyAddToSet(doc *document.Document, field string, arg interface{}) error {
	values := []interface{}{arg}
	if modMap, isMap := arg.(map[string]interface{}); isMap {
		if eachValues, hasEach := modMap["$each"]; hasEach {
			eachArr, ok := eachValues.([]interface{})
			if !ok {
				return fmt.Errorf("$each for %s requires an array: %w", field, query.ErrInvalidOperator)
			}
			values = eachArr
		}
	}

	arr, err := arrayField(doc, field)
	if err != nil {
		return err
	}

	for _, v := range normalizeAll(values) {
		found := false
		for _, elem := range arr {
			if document.Equals(elem, v) {
				found = true
				break
			}
		}
		if !found {
			arr = append(arr, v)
		}
	}

	doc.SetPath(field, arr)
	return nil
}

// applyBit performs bitwise and/or/xor on an integer field; a missing field
// starts at zero
func applyBit(doc *document.Document, field string, arg interface{}) error {
	ops, ok := arg.(map[string]interface{})
	if !ok || len(ops) == 0 {
		return fmt.Errorf("$bit for %s requires an operation object: %w", field, query.ErrInvalidOperator)
	}

	result := int64(0)
	if current, exists := doc.LookupPath(field); exists {
		n, isInt := document.Normalize(current).(int64)
		if !isInt {
			return fmt.Errorf("$bit on non-integer field %s: %w", field, ErrTypeMismatch)
		}
		result = n
	}

	for _, bitOp := range sortedKeys(ops) {
		operand, isInt := document.Normalize(ops[bitOp]).(int64)
		if !isInt {
			return fmt.Errorf("$bit operand for %s must be an integer: %w", field, ErrTypeMismatch)
		}

		switch bitOp {
		case "and":
			result &= operand
		case "or":
			result |= operand
		case "xor":
			result ^= operand
		default:
			return fmt.Errorf("unknown $bit operation %s: %w", bitOp, query.ErrInvalidOperator)
		}
	}

	doc.SetPath(field, result)
	return nil
}

// arrayField returns the field's array value, an empty array for a missing
// field, or a type mismatch for anything else
func arrayField(doc *document.Document, field string) ([]interface{}, error) {
	current, exists := doc.LookupPath(field)
	if !exists {
		return []interface{}{}, nil
	}
	arr, isArr := document.Normalize(current).([]interface{})
	if !isArr {
		return nil, fmt.Errorf("array operator on non-array field %s: %w", field, ErrTypeMismatch)
	}
	return arr, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
