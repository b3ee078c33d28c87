package impex

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/mnohosten/nora-db/pkg/database"
	"github.com/mnohosten/nora-db/pkg/index"
)

// ExportOptions configures an export
type ExportOptions struct {
	Compression Compression
}

// Export writes a snapshot of every collection to w. Each collection is
// snapshotted under its read lock, so individual collections are consistent
// but the export as a whole is not a point-in-time view across collections.
func Export(db *database.Database, w io.Writer, opts *ExportOptions) error {
	if opts == nil {
		opts = &ExportOptions{Compression: CompressionNone}
	}

	snapshot := Snapshot{
		Manifest: newManifest(db.Name()),
	}

	for _, name := range db.ListCollections() {
		dump, err := dumpCollection(db, name)
		if err != nil {
			return fmt.Errorf("exporting collection %s: %w", name, err)
		}
		snapshot.Collections = append(snapshot.Collections, dump)
	}

	sink, closeSink, err := wrapWriter(w, opts.Compression)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(sink).Encode(&snapshot); err != nil {
		closeSink()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return closeSink()
}

func dumpCollection(db *database.Database, name string) (CollectionDump, error) {
	coll, err := db.GetCollection(name)
	if err != nil {
		return CollectionDump{}, err
	}

	dump := CollectionDump{Name: name}

	for _, stats := range coll.ListIndexes() {
		if indexNameIsID(stats) {
			continue
		}
		fields, _ := stats["field_paths"].([]string)
		unique, _ := stats["unique"].(bool)
		dump.Indexes = append(dump.Indexes, IndexDef{Fields: fields, Unique: unique})
	}

	docs, err := coll.Find(map[string]interface{}{})
	if err != nil {
		return CollectionDump{}, err
	}
	dump.Documents = make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		dump.Documents = append(dump.Documents, encodeDoc(doc))
	}

	return dump, nil
}

// wrapWriter layers the chosen codec over w. The returned close function
// flushes the codec but never closes w itself.
func wrapWriter(w io.Writer, compression Compression) (io.Writer, func() error, error) {
	switch compression {
	case CompressionNone, "":
		return w, func() error { return nil }, nil
	case CompressionGzip:
		gw := gzip.NewWriter(w)
		return gw, gw.Close, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return zw, zw.Close, nil
	default:
		return nil, nil, fmt.Errorf("%q: %w", compression, ErrUnknownCompression)
	}
}

// indexNameIsID reports whether an index stat block describes the built-in
// _id index
func indexNameIsID(stats map[string]interface{}) bool {
	name, _ := stats["name"].(string)
	return name == index.IndexName([]string{"_id"})
}
