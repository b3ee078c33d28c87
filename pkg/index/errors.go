package index

import "errors"

var (
	// ErrDuplicateKey is returned when a unique index already holds the key
	// for a different document
	ErrDuplicateKey = errors.New("duplicate key in unique index")

	// ErrKeyNotFound is returned when a key is not present in the tree
	ErrKeyNotFound = errors.New("key not found")

	// ErrIndexNotFound is returned when dropping or fetching an unknown index
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists is returned when creating an index whose name is taken
	ErrIndexExists = errors.New("index already exists")
)
