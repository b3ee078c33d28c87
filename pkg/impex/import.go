package impex

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/mnohosten/nora-db/pkg/database"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Import reads a snapshot from r and loads it into db. The codec is sniffed
// from the stream's magic bytes, so the caller doesn't need to know how the
// snapshot was compressed. Imported collections replace existing ones of the
// same name.
func Import(db *database.Database, r io.Reader) error {
	source, err := sniffReader(r)
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(source)
	// Numbers must come through as json.Number so $int values above 2^53
	// keep their exact value
	decoder.UseNumber()

	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	if snapshot.Manifest.Version != formatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, snapshot.Manifest.Version)
	}

	for _, dump := range snapshot.Collections {
		if err := loadCollection(db, dump); err != nil {
			return fmt.Errorf("importing collection %s: %w", dump.Name, err)
		}
	}
	return nil
}

func loadCollection(db *database.Database, dump CollectionDump) error {
	if dump.Name == "" {
		return fmt.Errorf("%w: collection without a name", ErrBadSnapshot)
	}

	if err := db.DropCollection(dump.Name); err != nil && !errors.Is(err, database.ErrCollectionNotFound) {
		return err
	}
	coll := db.Collection(dump.Name)

	for _, def := range dump.Indexes {
		if len(def.Fields) == 0 {
			return fmt.Errorf("%w: index without fields", ErrBadSnapshot)
		}
		if _, err := coll.CreateIndex(def.Fields, def.Unique); err != nil {
			return err
		}
	}

	for i, raw := range dump.Documents {
		decoded, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		doc, ok := decoded.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: document %d is not an object", ErrBadSnapshot, i)
		}
		if _, err := coll.InsertOne(doc); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
	}

	return nil
}

// sniffReader inspects the stream's first bytes and wraps the matching
// decompressor around it
func sniffReader(r io.Reader) (io.Reader, error) {
	buffered := bufio.NewReader(r)

	head, err := buffered.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case bytes.HasPrefix(head, gzipMagic):
		gr, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gr, nil
	default:
		return buffered, nil
	}
}
