package document

import "time"

// Type represents the BSON data type of a value
type Type byte

const (
	TypeDouble   Type = 0x01
	TypeString   Type = 0x02
	TypeObject   Type = 0x03
	TypeArray    Type = 0x04
	TypeObjectID Type = 0x07
	TypeBoolean  Type = 0x08
	TypeDateTime Type = 0x09
	TypeNull     Type = 0x0A
	TypeInt64    Type = 0x12
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInt64:
		return "int64"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeDateTime:
		return "datetime"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeObjectID:
		return "objectid"
	default:
		return "unknown"
	}
}

// Rank returns the cross-type ordering rank used by Compare:
// Null < Number < String < Object < Array < Boolean < DateTime < ObjectID.
// Int64 and Double share the Number rank and compare numerically.
func (t Type) Rank() int {
	switch t {
	case TypeNull:
		return 0
	case TypeInt64, TypeDouble:
		return 1
	case TypeString:
		return 2
	case TypeObject:
		return 3
	case TypeArray:
		return 4
	case TypeBoolean:
		return 5
	case TypeDateTime:
		return 6
	case TypeObjectID:
		return 7
	default:
		return -1
	}
}

// Value represents a typed value in a document
type Value struct {
	Type Type
	Data interface{}
}

// NewValue creates a new typed value, normalizing the payload to the
// canonical Go representation for its type
func NewValue(data interface{}) *Value {
	data = Normalize(data)
	return &Value{Type: TypeOf(data), Data: data}
}

// TypeOf returns the Type tag for a normalized payload
func TypeOf(data interface{}) Type {
	switch data.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int64:
		return TypeInt64
	case float64:
		return TypeDouble
	case string:
		return TypeString
	case time.Time:
		return TypeDateTime
	case []interface{}:
		return TypeArray
	case *Document:
		return TypeObject
	case ObjectID:
		return TypeObjectID
	default:
		return TypeNull
	}
}

// Normalize converts a payload to its canonical representation: integer
// widths collapse to int64, float32 to float64, maps become documents, and
// array elements are normalized recursively. Unsupported payloads become null.
func Normalize(data interface{}) interface{} {
	switch v := data.(type) {
	case nil, bool, int64, float64, string, time.Time, ObjectID, *Document:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case []interface{}:
		arr := make([]interface{}, len(v))
		for i, elem := range v {
			arr[i] = Normalize(elem)
		}
		return arr
	case Document:
		return &v
	case map[string]interface{}:
		return NewDocumentFromMap(v)
	default:
		return nil
	}
}
