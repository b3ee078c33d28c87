package database

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/mnohosten/nora-db/pkg/query"
)

// QueryOptions holds options for queries
type QueryOptions struct {
	Projection map[string]bool
	Sort       []query.SortField
	Limit      int
	Skip       int
}

// UpdateOptions holds options for update operations
type UpdateOptions struct {
	Upsert bool
}

// UpdateResult reports the outcome of an update operation
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	UpsertedID    interface{}
}

// DeleteResult reports the outcome of a delete operation
type DeleteResult struct {
	DeletedCount int
}

// QueryOptionsFromMap decodes loosely typed option maps, as produced by a
// JSON command document, into QueryOptions. Sort is given as an ordered list
// of {field, order} pairs.
func QueryOptionsFromMap(m map[string]interface{}) (*QueryOptions, error) {
	var raw struct {
		Projection map[string]bool          `mapstructure:"projection"`
		Sort       []map[string]interface{} `mapstructure:"sort"`
		Limit      int                      `mapstructure:"limit"`
		Skip       int                      `mapstructure:"skip"`
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid query options: %w", err)
	}

	opts := &QueryOptions{
		Projection: raw.Projection,
		Limit:      raw.Limit,
		Skip:       raw.Skip,
	}

	for _, pair := range raw.Sort {
		field, ok := pair["field"].(string)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid query options: sort entry needs a field name")
		}
		order := 1
		if rawOrder, exists := pair["order"]; exists {
			switch o := rawOrder.(type) {
			case int:
				order = o
			case int64:
				order = int(o)
			case float64:
				order = int(o)
			default:
				return nil, fmt.Errorf("invalid query options: sort order for %s must be 1 or -1", field)
			}
		}
		if order != 1 && order != -1 {
			return nil, fmt.Errorf("invalid query options: sort order for %s must be 1 or -1", field)
		}
		opts.Sort = append(opts.Sort, query.SortField{Field: field, Ascending: order > 0})
	}

	return opts, nil
}

// UpdateOptionsFromMap decodes loosely typed option maps into UpdateOptions
func UpdateOptionsFromMap(m map[string]interface{}) (*UpdateOptions, error) {
	opts := &UpdateOptions{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid update options: %w", err)
	}
	return opts, nil
}
