package document

import (
	"bytes"
	"time"
)

// Compare defines a total order over all values. Values of different types
// order by Type.Rank; values of the same rank order naturally: numerically
// for numbers, byte-wise for strings, element-wise for arrays and objects,
// false before true for booleans, chronologically for datetimes, and
// byte-wise for object ids. Compare never fails.
func Compare(a, b interface{}) int {
	a = Normalize(a)
	b = Normalize(b)

	ta := TypeOf(a)
	tb := TypeOf(b)

	if ta.Rank() != tb.Rank() {
		if ta.Rank() < tb.Rank() {
			return -1
		}
		return 1
	}

	switch ta.Rank() {
	case 0: // null
		return 0
	case 1: // number
		return compareNumbers(a, b)
	case 2:
		sa, sb := a.(string), b.(string)
		if sa < sb {
			return -1
		} else if sa > sb {
			return 1
		}
		return 0
	case 3:
		return compareDocuments(a.(*Document), b.(*Document))
	case 4:
		return compareArrays(a.([]interface{}), b.([]interface{}))
	case 5:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	case 6:
		ma, mb := a.(time.Time).UnixMilli(), b.(time.Time).UnixMilli()
		if ma < mb {
			return -1
		} else if ma > mb {
			return 1
		}
		return 0
	case 7:
		ida, idb := a.(ObjectID), b.(ObjectID)
		return bytes.Compare(ida[:], idb[:])
	default:
		return 0
	}
}

// Equals reports whether two values compare as equal
func Equals(a, b interface{}) bool {
	return Compare(a, b) == 0
}

// compareNumbers compares int64/double payloads. Two int64 values compare
// exactly; mixed numbers compare as float64.
func compareNumbers(a, b interface{}) int {
	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	if aInt && bInt {
		if ia < ib {
			return -1
		} else if ia > ib {
			return 1
		}
		return 0
	}

	fa := toFloat(a)
	fb := toFloat(b)
	if fa < fb {
		return -1
	} else if fa > fb {
		return 1
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// compareArrays compares element-wise; the shorter array sorts first when one
// is a prefix of the other
func compareArrays(a, b []interface{}) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if cmp := Compare(a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	if len(a) < len(b) {
		return -1
	} else if len(a) > len(b) {
		return 1
	}
	return 0
}

// compareDocuments compares field-wise in field order: key, then value, then
// remaining length
func compareDocuments(a, b *Document) int {
	ka, kb := a.Keys(), b.Keys()
	n := len(ka)
	if len(kb) < n {
		n = len(kb)
	}
	for i := 0; i < n; i++ {
		if ka[i] < kb[i] {
			return -1
		} else if ka[i] > kb[i] {
			return 1
		}
		va, _ := a.Get(ka[i])
		vb, _ := b.Get(kb[i])
		if cmp := Compare(va, vb); cmp != 0 {
			return cmp
		}
	}
	if len(ka) < len(kb) {
		return -1
	} else if len(ka) > len(kb) {
		return 1
	}
	return 0
}

// IsNumeric reports whether a normalized payload is an int64 or double
func IsNumeric(v interface{}) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}
