package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mnohosten/nora-db/pkg/document"
)

// Predicate is a compiled filter expression. Compilation validates the whole
// filter up front, so evaluation cannot fail and runs without re-dispatching
// on operator names per document.
type Predicate interface {
	Matches(doc *document.Document) bool
}

// Compile compiles a filter expression into a predicate tree. Multiple field
// constraints at the same level combine as an implicit $and. Unknown or
// malformed operators fail with ErrInvalidOperator.
func Compile(filter map[string]interface{}) (Predicate, error) {
	preds := make([]Predicate, 0, len(filter))

	for _, key := range sortedKeys(filter) {
		value := filter[key]

		if strings.HasPrefix(key, "$") {
			pred, err := compileLogical(Operator(key), value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, pred)
			continue
		}

		pred, err := compileField(key, value)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return &allOf{preds: preds}, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compileLogical compiles a top-level $and/$or/$nor/$not expression
func compileLogical(op Operator, value interface{}) (Predicate, error) {
	switch op {
	case OpAnd, OpOr, OpNor:
		conditions, ok := value.([]interface{})
		if !ok || len(conditions) == 0 {
			return nil, fmt.Errorf("%s requires a non-empty array of conditions: %w", op, ErrInvalidOperator)
		}

		preds := make([]Predicate, 0, len(conditions))
		for _, condition := range conditions {
			condMap, ok := condition.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s condition must be an object: %w", op, ErrInvalidOperator)
			}
			pred, err := Compile(condMap)
			if err != nil {
				return nil, err
			}
			preds = append(preds, pred)
		}

		switch op {
		case OpAnd:
			return &allOf{preds: preds}, nil
		case OpOr:
			return &anyOf{preds: preds}, nil
		default:
			return &noneOf{preds: preds}, nil
		}
	case OpNot:
		condMap, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("$not requires an object: %w", ErrInvalidOperator)
		}
		pred, err := Compile(condMap)
		if err != nil {
			return nil, err
		}
		return &negation{pred: pred}, nil
	default:
		return nil, fmt.Errorf("unsupported operator %s: %w", op, ErrInvalidOperator)
	}
}

// compileField compiles the constraints on a single field path
func compileField(path string, value interface{}) (Predicate, error) {
	opMap, isMap := value.(map[string]interface{})
	if !isMap || !hasOperatorKeys(opMap) {
		// Literal equality, possibly against a document value
		return &fieldPredicate{
			path:  path,
			conds: []fieldCondition{&compareCond{op: OpEqual, arg: document.Normalize(value)}},
		}, nil
	}

	conds, err := compileConditions(opMap)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", path, err)
	}
	return &fieldPredicate{path: path, conds: conds}, nil
}

// hasOperatorKeys reports whether a map is an operator expression. Mixing
// operator and plain keys is malformed and caught by compileConditions.
func hasOperatorKeys(m map[string]interface{}) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// compileConditions compiles an operator object into field conditions
func compileConditions(opMap map[string]interface{}) ([]fieldCondition, error) {
	conds := make([]fieldCondition, 0, len(opMap))

	for _, opStr := range sortedKeys(opMap) {
		if !strings.HasPrefix(opStr, "$") {
			return nil, fmt.Errorf("cannot mix operators and fields: %w", ErrInvalidOperator)
		}

		op := Operator(opStr)
		opValue := opMap[opStr]

		cond, err := compileCondition(op, opValue)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	return conds, nil
}

// compileCondition compiles a single operator into a field condition
func compileCondition(op Operator, opValue interface{}) (fieldCondition, error) {
	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return &compareCond{op: op, arg: document.Normalize(opValue)}, nil

	case OpIn, OpNotIn:
		arr, ok := document.Normalize(opValue).([]interface{})
		if !ok {
			return nil, fmt.Errorf("%s requires an array: %w", op, ErrInvalidOperator)
		}
		return &inCond{negate: op == OpNotIn, args: arr}, nil

	case OpExists:
		want, ok := opValue.(bool)
		if !ok {
			return nil, fmt.Errorf("$exists requires a boolean: %w", ErrInvalidOperator)
		}
		return &existsCond{want: want}, nil

	case OpType:
		name, ok := opValue.(string)
		if !ok || !validTypeName(name) {
			return nil, fmt.Errorf("$type requires a type name: %w", ErrInvalidOperator)
		}
		return &typeCond{name: name}, nil

	case OpRegex:
		pattern, ok := opValue.(string)
		if !ok {
			return nil, fmt.Errorf("$regex requires a string pattern: %w", ErrInvalidOperator)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", ErrInvalidOperator)
		}
		return &regexCond{re: re}, nil

	case OpSize:
		n, ok := document.Normalize(opValue).(int64)
		if !ok {
			return nil, fmt.Errorf("$size requires an integer: %w", ErrInvalidOperator)
		}
		return &sizeCond{n: int(n)}, nil

	case OpAll:
		arr, ok := document.Normalize(opValue).([]interface{})
		if !ok {
			return nil, fmt.Errorf("$all requires an array: %w", ErrInvalidOperator)
		}
		return &allCond{args: arr}, nil

	case OpElemMatch:
		return compileElemMatch(opValue)

	case OpNot:
		innerMap, ok := opValue.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("$not requires an operator object: %w", ErrInvalidOperator)
		}
		inner, err := compileConditions(innerMap)
		if err != nil {
			return nil, err
		}
		return &notCond{inner: inner}, nil

	default:
		return nil, fmt.Errorf("unsupported operator %s: %w", op, ErrInvalidOperator)
	}
}

// compileElemMatch compiles an $elemMatch specification. A specification of
// bare operators applies to each element value; anything else compiles as a
// filter over document elements.
func compileElemMatch(opValue interface{}) (fieldCondition, error) {
	spec, ok := opValue.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("$elemMatch requires an object: %w", ErrInvalidOperator)
	}

	operatorsOnly := len(spec) > 0
	for k := range spec {
		if !strings.HasPrefix(k, "$") {
			operatorsOnly = false
			break
		}
	}

	if operatorsOnly {
		conds, err := compileConditions(spec)
		if err != nil {
			return nil, err
		}
		return &elemMatchCond{conds: conds}, nil
	}

	pred, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	return &elemMatchCond{pred: pred}, nil
}

func validTypeName(name string) bool {
	switch name {
	case "null", "boolean", "int64", "double", "string", "datetime",
		"array", "object", "objectid", "number":
		return true
	}
	return false
}

// --- predicate tree nodes ---

type allOf struct {
	preds []Predicate
}

func (p *allOf) Matches(doc *document.Document) bool {
	for _, pred := range p.preds {
		if !pred.Matches(doc) {
			return false
		}
	}
	return true
}

type anyOf struct {
	preds []Predicate
}

func (p *anyOf) Matches(doc *document.Document) bool {
	for _, pred := range p.preds {
		if pred.Matches(doc) {
			return true
		}
	}
	return false
}

type noneOf struct {
	preds []Predicate
}

func (p *noneOf) Matches(doc *document.Document) bool {
	for _, pred := range p.preds {
		if pred.Matches(doc) {
			return false
		}
	}
	return true
}

type negation struct {
	pred Predicate
}

func (p *negation) Matches(doc *document.Document) bool {
	return !p.pred.Matches(doc)
}

// fieldPredicate applies conditions to the values a field path resolves to
type fieldPredicate struct {
	path  string
	conds []fieldCondition
}

func (p *fieldPredicate) Matches(doc *document.Document) bool {
	values := doc.ResolvePath(p.path)
	for _, cond := range p.conds {
		if !cond.matches(values) {
			return false
		}
	}
	return true
}

// fieldCondition evaluates one operator against a field's resolved values
type fieldCondition interface {
	matches(values []document.PathValue) bool
}

// candidates lists the values a comparison considers: each resolved value
// plus, for arrays, each element, so a constraint matches when any array
// element satisfies it
func candidates(values []document.PathValue) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, pv := range values {
		v := document.Normalize(pv.Value)
		out = append(out, v)
		if arr, isArr := v.([]interface{}); isArr {
			out = append(out, arr...)
		}
	}
	return out
}

type compareCond struct {
	op  Operator
	arg interface{}
}

func (c *compareCond) matches(values []document.PathValue) bool {
	if c.op == OpNotEqual {
		eq := compareCond{op: OpEqual, arg: c.arg}
		return !eq.matches(values)
	}

	for _, v := range candidates(values) {
		cmp := document.Compare(v, c.arg)
		switch c.op {
		case OpEqual:
			if cmp == 0 {
				return true
			}
		case OpGreaterThan:
			if cmp > 0 {
				return true
			}
		case OpGreaterThanOrEqual:
			if cmp >= 0 {
				return true
			}
		case OpLessThan:
			if cmp < 0 {
				return true
			}
		case OpLessThanOrEqual:
			if cmp <= 0 {
				return true
			}
		}
	}
	return false
}

type inCond struct {
	negate bool
	args   []interface{}
}

func (c *inCond) matches(values []document.PathValue) bool {
	found := false
	for _, v := range candidates(values) {
		for _, arg := range c.args {
			if document.Equals(v, arg) {
				found = true
			}
		}
	}
	if c.negate {
		return !found
	}
	return found
}

type existsCond struct {
	want bool
}

func (c *existsCond) matches(values []document.PathValue) bool {
	exists := false
	for _, pv := range values {
		if pv.Exists {
			exists = true
			break
		}
	}
	return exists == c.want
}

type typeCond struct {
	name string
}

func (c *typeCond) matches(values []document.PathValue) bool {
	for _, v := range candidates(values) {
		t := document.TypeOf(v)
		if t.String() == c.name {
			return true
		}
		if c.name == "number" && (t == document.TypeInt64 || t == document.TypeDouble) {
			return true
		}
	}
	return false
}

type regexCond struct {
	re *regexp.Regexp
}

func (c *regexCond) matches(values []document.PathValue) bool {
	for _, v := range candidates(values) {
		if s, ok := v.(string); ok && c.re.MatchString(s) {
			return true
		}
	}
	return false
}

type sizeCond struct {
	n int
}

func (c *sizeCond) matches(values []document.PathValue) bool {
	for _, pv := range values {
		if arr, ok := document.Normalize(pv.Value).([]interface{}); ok && len(arr) == c.n {
			return true
		}
	}
	return false
}

type allCond struct {
	args []interface{}
}

func (c *allCond) matches(values []document.PathValue) bool {
	for _, pv := range values {
		v := document.Normalize(pv.Value)
		elems, isArr := v.([]interface{})
		if !isArr {
			elems = []interface{}{v}
		}

		containsAll := true
		for _, arg := range c.args {
			found := false
			for _, elem := range elems {
				if document.Equals(elem, arg) {
					found = true
					break
				}
			}
			if !found {
				containsAll = false
				break
			}
		}
		if containsAll {
			return true
		}
	}
	return false
}

type elemMatchCond struct {
	pred  Predicate       // Filter form, matched against document elements
	conds []fieldCondition // Operator form, matched against each element value
}

func (c *elemMatchCond) matches(values []document.PathValue) bool {
	for _, pv := range values {
		arr, isArr := document.Normalize(pv.Value).([]interface{})
		if !isArr {
			continue
		}

		for _, elem := range arr {
			if c.pred != nil {
				if sub, isDoc := elem.(*document.Document); isDoc && c.pred.Matches(sub) {
					return true
				}
				continue
			}

			elemValues := []document.PathValue{{Value: elem, Exists: true}}
			matched := true
			for _, cond := range c.conds {
				if !cond.matches(elemValues) {
					matched = false
					break
				}
			}
			if matched {
				return true
			}
		}
	}
	return false
}

type notCond struct {
	inner []fieldCondition
}

func (c *notCond) matches(values []document.PathValue) bool {
	for _, cond := range c.inner {
		if !cond.matches(values) {
			return true
		}
	}
	return false
}
