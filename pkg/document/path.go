package document

import "strconv"

// PathValue is one value a dotted field path resolved to. Exists is false
// only for the single placeholder returned when the path did not resolve;
// such a value is treated as null by comparisons.
type PathValue struct {
	Value  interface{}
	Exists bool
}

// ResolvePath resolves a dotted path to every value it addresses. A path
// segment resolving into an array fans out across the array's document
// elements, so a constraint on the path holds when any element satisfies it.
// A numeric segment additionally addresses the array position directly.
func (d *Document) ResolvePath(path string) []PathValue {
	results := resolveSegments(d, SplitPath(path))
	if len(results) == 0 {
		return []PathValue{{Value: nil, Exists: false}}
	}
	return results
}

func resolveSegments(node interface{}, segs []string) []PathValue {
	if len(segs) == 0 {
		return []PathValue{{Value: node, Exists: true}}
	}

	switch n := node.(type) {
	case *Document:
		v, ok := n.Get(segs[0])
		if !ok {
			return nil
		}
		return resolveSegments(v, segs[1:])
	case []interface{}:
		results := make([]PathValue, 0)

		// A numeric segment addresses the array position directly
		if idx, err := strconv.Atoi(segs[0]); err == nil && idx >= 0 && idx < len(n) {
			results = append(results, resolveSegments(n[idx], segs[1:])...)
		}

		// Fan out across document elements
		for _, elem := range n {
			if sub, isDoc := elem.(*Document); isDoc {
				results = append(results, resolveSegments(sub, segs)...)
			}
		}
		return results
	default:
		return nil
	}
}
