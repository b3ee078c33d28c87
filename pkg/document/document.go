package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Document represents a BSON-like document (key-value pairs)
type Document struct {
	fields map[string]*Value
	order  []string // Maintain insertion order
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]*Value),
		order:  make([]string, 0),
	}
}

// NewDocumentFromMap creates a document from a map. Map iteration order is
// not deterministic, so fields are inserted in sorted key order.
func NewDocumentFromMap(m map[string]interface{}) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := NewDocument()
	for _, k := range keys {
		doc.Set(k, m[k])
	}
	return doc
}

// Set sets a field value in the document
func (d *Document) Set(key string, value interface{}) {
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = NewValue(value)
}

// Get retrieves a field value from the document
func (d *Document) Get(key string) (interface{}, bool) {
	if v, ok := d.fields[key]; ok {
		return v.Data, true
	}
	return nil, false
}

// GetValue retrieves a typed value from the document
func (d *Document) GetValue(key string) (*Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a field from the document
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}

	delete(d.fields, key)

	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	return d.order
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.fields)
}

// ToMap converts the document to a map[string]interface{}
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		m[k] = valueToInterface(v.Data)
	}
	return m
}

func valueToInterface(data interface{}) interface{} {
	switch v := data.(type) {
	case *Document:
		return v.ToMap()
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = valueToInterface(item)
		}
		return result
	}
	return data
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := NewDocument()
	for _, key := range d.order {
		if v, ok := d.fields[key]; ok {
			clone.Set(key, CloneValue(v.Data))
		}
	}
	return clone
}

// CloneValue creates a deep copy of a normalized payload
func CloneValue(data interface{}) interface{} {
	switch v := data.(type) {
	case *Document:
		return v.Clone()
	case []interface{}:
		clone := make([]interface{}, len(v))
		for i, elem := range v {
			clone[i] = CloneValue(elem)
		}
		return clone
	}
	return data
}

// SplitPath splits a dotted field path into its segments
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// LookupPath retrieves a value using dot notation (e.g. "user.address.city").
// Numeric segments index into arrays. The second return reports whether the
// full path resolved.
func (d *Document) LookupPath(path string) (interface{}, bool) {
	var current interface{} = d

	for _, seg := range SplitPath(path) {
		switch node := current.(type) {
		case *Document:
			v, ok := node.Get(seg)
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// SetPath sets a value using dot notation, creating intermediate documents
// for missing segments. A numeric segment addressing past the end of an
// existing array extends it with nulls.
func (d *Document) SetPath(path string, value interface{}) {
	segs := SplitPath(path)
	setPathInDoc(d, segs, value)
}

func setPathInDoc(doc *Document, segs []string, value interface{}) {
	if len(segs) == 1 {
		doc.Set(segs[0], value)
		return
	}

	child, ok := doc.Get(segs[0])
	if !ok {
		sub := NewDocument()
		doc.Set(segs[0], sub)
		setPathInDoc(sub, segs[1:], value)
		return
	}

	switch node := child.(type) {
	case *Document:
		setPathInDoc(node, segs[1:], value)
	case []interface{}:
		idx, err := strconv.Atoi(segs[1])
		if err != nil || idx < 0 {
			return
		}
		for len(node) <= idx {
			node = append(node, nil)
		}
		if len(segs) == 2 {
			node[idx] = Normalize(value)
		} else {
			sub, isDoc := node[idx].(*Document)
			if !isDoc {
				sub = NewDocument()
				node[idx] = sub
			}
			setPathInDoc(sub, segs[2:], value)
		}
		doc.Set(segs[0], node)
	default:
		// Overwrite a scalar with an intermediate document
		sub := NewDocument()
		doc.Set(segs[0], sub)
		setPathInDoc(sub, segs[1:], value)
	}
}

// DeletePath removes a value using dot notation. Missing paths are a no-op.
func (d *Document) DeletePath(path string) {
	segs := SplitPath(path)
	if len(segs) == 1 {
		d.Delete(segs[0])
		return
	}

	parentPath := strings.Join(segs[:len(segs)-1], ".")
	parent, ok := d.LookupPath(parentPath)
	if !ok {
		return
	}
	if doc, isDoc := parent.(*Document); isDoc {
		doc.Delete(segs[len(segs)-1])
	}
}

// HasPath checks if a dotted path resolves in the document
func (d *Document) HasPath(path string) bool {
	_, ok := d.LookupPath(path)
	return ok
}

// String returns a string representation of the document
func (d *Document) String() string {
	return fmt.Sprintf("%v", d.ToMap())
}
