package query

import "errors"

// ErrInvalidOperator is returned when a filter, update, or pipeline contains
// an unknown or malformed operator. It is detected at compile time, before
// any document is examined.
var ErrInvalidOperator = errors.New("invalid operator")
