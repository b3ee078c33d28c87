package aggregation

import (
	"fmt"
	"math"

	"github.com/mnohosten/nora-db/pkg/document"
	"github.com/mnohosten/nora-db/pkg/query"
)

// GroupStage buckets documents by a key expression and folds accumulator
// expressions over each bucket. Groups are emitted in the order their keys
// were first observed in the input.
type GroupStage struct {
	idExpr       interface{}
	accumulators []accumulatorSpec
}

type accumulatorSpec struct {
	field string
	op    string
	expr  interface{}
}

func newGroupStage(spec interface{}) (*GroupStage, error) {
	groupSpec, ok := spec.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("$group requires a group specification: %w", ErrInvalidPipeline)
	}

	idExpr, hasID := groupSpec["_id"]
	if !hasID {
		return nil, fmt.Errorf("$group requires an _id expression: %w", ErrInvalidPipeline)
	}

	stage := &GroupStage{idExpr: idExpr}

	for _, field := range sortedKeys(groupSpec) {
		if field == "_id" {
			continue
		}
		accDef, ok := groupSpec[field].(map[string]interface{})
		if !ok || len(accDef) != 1 {
			return nil, fmt.Errorf("accumulator %s must have exactly one operator: %w", field, ErrInvalidPipeline)
		}
		for op, expr := range accDef {
			switch op {
			case "$sum", "$avg", "$min", "$max", "$push", "$addToSet", "$first", "$last", "$count":
			default:
				return nil, fmt.Errorf("unsupported accumulator %s: %w", op, query.ErrInvalidOperator)
			}
			stage.accumulators = append(stage.accumulators, accumulatorSpec{
				field: field,
				op:    op,
				expr:  expr,
			})
		}
	}

	return stage, nil
}

// groupBucket holds one group's key and its per-accumulator state
type groupBucket struct {
	key    interface{}
	accums []*accumulator
}

type accumulator struct {
	spec accumulatorSpec

	sumInt   int64
	sumFloat float64
	isFloat  bool
	count    int64

	best    interface{}
	hasBest bool

	values []interface{}
	first  interface{}
	last   interface{}
	seen   bool
}

func (s *GroupStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	buckets := make(map[string]*groupBucket)
	order := make([]string, 0)

	for _, doc := range docs {
		key, _ := evalExpression(doc, s.idExpr)
		key = document.Normalize(key)

		canonical, err := canonicalKey(key)
		if err != nil {
			return nil, err
		}

		bucket, exists := buckets[canonical]
		if !exists {
			bucket = &groupBucket{key: key}
			for _, spec := range s.accumulators {
				bucket.accums = append(bucket.accums, &accumulator{spec: spec})
			}
			buckets[canonical] = bucket
			order = append(order, canonical)
		}

		for _, acc := range bucket.accums {
			acc.observe(doc)
		}
	}

	result := make([]*document.Document, 0, len(order))
	for _, canonical := range order {
		bucket := buckets[canonical]
		out := document.NewDocument()
		out.Set("_id", bucket.key)
		for _, acc := range bucket.accums {
			out.Set(acc.spec.field, acc.finish())
		}
		result = append(result, out)
	}

	return result, nil
}

func (s *GroupStage) Type() string {
	return "$group"
}

// observe folds one document into the accumulator state
func (a *accumulator) observe(doc *document.Document) {
	value, _ := evalExpression(doc, a.spec.expr)
	value = document.Normalize(value)

	switch a.spec.op {
	case "$sum":
		switch v := value.(type) {
		case int64:
			a.sumInt += v
			a.count++
		case float64:
			a.sumFloat += v
			a.isFloat = true
			a.count++
		}
	case "$avg":
		switch v := value.(type) {
		case int64:
			a.sumFloat += float64(v)
			a.count++
		case float64:
			a.sumFloat += v
			a.count++
		}
	case "$min":
		if value == nil {
			return
		}
		if !a.hasBest || document.Compare(value, a.best) < 0 {
			a.best = value
			a.hasBest = true
		}
	case "$max":
		if value == nil {
			return
		}
		if !a.hasBest || document.Compare(value, a.best) > 0 {
			a.best = value
			a.hasBest = true
		}
	case "$push":
		a.values = append(a.values, value)
	case "$addToSet":
		for _, existing := range a.values {
			if document.Equals(existing, value) {
				return
			}
		}
		a.values = append(a.values, value)
	case "$first":
		if !a.seen {
			a.first = value
			a.seen = true
		}
	case "$last":
		a.last = value
		a.seen = true
	case "$count":
		a.count++
	}
}

// finish produces the accumulator's final value for the group document
func (a *accumulator) finish() interface{} {
	switch a.spec.op {
	case "$sum":
		// Integer inputs keep an integer sum; any double input widens
		// the whole sum to double
		if a.isFloat {
			return a.sumFloat + float64(a.sumInt)
		}
		return a.sumInt
	case "$avg":
		if a.count == 0 {
			return nil
		}
		return a.sumFloat / float64(a.count)
	case "$min", "$max":
		if !a.hasBest {
			return nil
		}
		return a.best
	case "$push", "$addToSet":
		if a.values == nil {
			return []interface{}{}
		}
		return a.values
	case "$first":
		return a.first
	case "$last":
		return a.last
	case "$count":
		return a.count
	}
	return nil
}

// canonicalKey renders a group key into a comparable string so that keys
// equal under value comparison land in the same bucket
func canonicalKey(key interface{}) (string, error) {
	wrapper := document.NewDocument()
	wrapper.Set("k", unifyNumbers(key))

	encoded, err := document.NewEncoder().Encode(wrapper)
	if err != nil {
		return "", fmt.Errorf("group key is not representable: %w", err)
	}
	return string(encoded), nil
}

// unifyNumbers maps integral doubles onto int64 so that 1 and 1.0 share a
// bucket, matching value comparison semantics
func unifyNumbers(key interface{}) interface{} {
	switch v := key.(type) {
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return int64(v)
		}
	case []interface{}:
		unified := make([]interface{}, len(v))
		for i, elem := range v {
			unified[i] = unifyNumbers(elem)
		}
		return unified
	case *document.Document:
		unified := document.NewDocument()
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			unified.Set(k, unifyNumbers(val))
		}
		return unified
	}
	return key
}
