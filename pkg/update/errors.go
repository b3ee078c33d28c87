package update

import "errors"

var (
	// ErrTypeMismatch is returned when an operator is applied to a field of
	// an incompatible type, e.g. $inc on a string
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrImmutableID is returned when an update would change a document's _id
	ErrImmutableID = errors.New("the _id field is immutable")
)
