package query

// Operator represents a query operator
type Operator string

const (
	// Comparison operators
	OpEqual              Operator = "$eq"
	OpNotEqual           Operator = "$ne"
	OpGreaterThan        Operator = "$gt"
	OpGreaterThanOrEqual Operator = "$gte"
	OpLessThan           Operator = "$lt"
	OpLessThanOrEqual    Operator = "$lte"
	OpIn                 Operator = "$in"
	OpNotIn              Operator = "$nin"

	// Logical operators
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"
	OpNot Operator = "$not"
	OpNor Operator = "$nor"

	// Element operators
	OpExists Operator = "$exists"
	OpType   Operator = "$type"

	// Evaluation operators
	OpRegex Operator = "$regex"

	// Array operators
	OpAll       Operator = "$all"
	OpElemMatch Operator = "$elemMatch"
	OpSize      Operator = "$size"
)

// isComparison reports whether op compares a field value against an argument
func (op Operator) isComparison() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpIn, OpNotIn:
		return true
	}
	return false
}
