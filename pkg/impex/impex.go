// Package impex exports database contents to a portable JSON snapshot and
// imports such snapshots back, optionally compressed.
package impex

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Compression selects the stream codec wrapped around the JSON snapshot
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

const formatVersion = 1

var (
	// ErrUnknownCompression is returned for an unrecognized codec name
	ErrUnknownCompression = errors.New("unknown compression codec")

	// ErrBadSnapshot is returned when a snapshot fails validation
	ErrBadSnapshot = errors.New("malformed snapshot")
)

// Manifest identifies a snapshot
type Manifest struct {
	ID        string    `json:"id"`
	Database  string    `json:"database"`
	CreatedAt time.Time `json:"createdAt"`
	Version   int       `json:"version"`
}

// IndexDef describes a secondary index so imports can rebuild it
type IndexDef struct {
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}

// CollectionDump holds one collection's documents in insertion order
type CollectionDump struct {
	Name      string                   `json:"name"`
	Indexes   []IndexDef               `json:"indexes"`
	Documents []map[string]interface{} `json:"documents"`
}

// Snapshot is the on-disk shape of an export
type Snapshot struct {
	Manifest    Manifest         `json:"manifest"`
	Collections []CollectionDump `json:"collections"`
}

func newManifest(database string) Manifest {
	return Manifest{
		ID:        uuid.NewString(),
		Database:  database,
		CreatedAt: time.Now().UTC(),
		Version:   formatVersion,
	}
}
