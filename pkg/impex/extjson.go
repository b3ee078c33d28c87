package impex

import (
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mnohosten/nora-db/pkg/document"
)

// Values that plain JSON cannot represent round-trip through tagged
// wrappers: ObjectIDs as {"$oid": hex} and timestamps as {"$date": millis}.
// Integers travel as {"$int": n} when a bare JSON number would come back as
// a double.

// encodeDoc renders a document into a JSON-safe map preserving field order
// is not required here; importers rebuild documents from sorted keys
func encodeDoc(doc *document.Document) map[string]interface{} {
	out := make(map[string]interface{}, doc.Len())
	for _, key := range doc.Keys() {
		value, _ := doc.Get(key)
		out[key] = encodeValue(value)
	}
	return out
}

func encodeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case document.ObjectID:
		return map[string]interface{}{"$oid": v.Hex()}
	case time.Time:
		return map[string]interface{}{"$date": v.UnixMilli()}
	case int64:
		return map[string]interface{}{"$int": v}
	case []interface{}:
		encoded := make([]interface{}, len(v))
		for i, elem := range v {
			encoded[i] = encodeValue(elem)
		}
		return encoded
	case *document.Document:
		return encodeDoc(v)
	default:
		return v
	}
}

func decodeValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		if len(v) == 1 {
			if hex, ok := v["$oid"].(string); ok {
				oid, err := document.ObjectIDFromHex(hex)
				if err != nil {
					return nil, fmt.Errorf("%w: bad $oid %q", ErrBadSnapshot, hex)
				}
				return oid, nil
			}
			if millis, ok := jsonInt(v["$date"]); ok {
				return time.UnixMilli(millis).UTC(), nil
			}
			if n, ok := jsonInt(v["$int"]); ok {
				return n, nil
			}
		}
		decoded := make(map[string]interface{}, len(v))
		for key, elem := range v {
			inner, err := decodeValue(elem)
			if err != nil {
				return nil, err
			}
			decoded[key] = inner
		}
		return decoded, nil
	case []interface{}:
		decoded := make([]interface{}, len(v))
		for i, elem := range v {
			inner, err := decodeValue(elem)
			if err != nil {
				return nil, err
			}
			decoded[i] = inner
		}
		return decoded, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrBadSnapshot, v.String())
		}
		return f, nil
	default:
		return value, nil
	}
}

// jsonInt accepts the numeric shapes a JSON decoder may produce for an
// integral value
func jsonInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case int:
		return int64(v), true
	}
	return 0, false
}
