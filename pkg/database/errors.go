package database

import "errors"

var (
	// ErrDocumentNotFound is returned when a document is not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrCollectionNotFound is returned when a collection is not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDocumentTooLarge is returned when a document exceeds the maximum
	// encoded size
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrDuplicateID is returned when inserting a document whose _id is
	// already present
	ErrDuplicateID = errors.New("duplicate _id")
)
