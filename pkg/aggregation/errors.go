package aggregation

import "errors"

var (
	// ErrInvalidPipeline is returned when a pipeline's shape is invalid,
	// e.g. $out appearing anywhere but last or a malformed stage definition
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrNoEnvironment is returned when a $lookup or $out stage executes
	// without access to the owning database
	ErrNoEnvironment = errors.New("pipeline stage requires a database environment")
)
