package query

import (
	"github.com/mnohosten/nora-db/pkg/document"
	"github.com/mnohosten/nora-db/pkg/index"
)

// ScanType represents the access path chosen for a query
type ScanType int

const (
	ScanTypeCollection  ScanType = iota // Full collection scan
	ScanTypeIndexExact                  // Exact key match on an index
	ScanTypeIndexRange                  // Range scan on an index
	ScanTypeIndexPrefix                 // Compound index prefix match
)

// Plan represents an execution plan for a query. An index-assisted plan only
// restricts the candidate set; the full predicate is still applied to every
// candidate, so index scans and collection scans always return the same
// documents.
type Plan struct {
	UseIndex      bool
	Index         *index.Index
	ScanType      ScanType
	ScanKey       interface{}
	ScanStart     interface{} // nil = unbounded
	ScanEnd       interface{} // nil = unbounded
	Prefix        *index.CompositeKey
	EstimatedCost int
}

// CandidateIDs runs the plan's index access path and returns the candidate
// document ids. Only valid for index-assisted plans.
func (p *Plan) CandidateIDs() []string {
	switch p.ScanType {
	case ScanTypeIndexExact:
		return p.Index.Lookup(p.ScanKey)
	case ScanTypeIndexRange:
		return p.Index.RangeLookup(p.ScanStart, p.ScanEnd)
	case ScanTypeIndexPrefix:
		return p.Index.PrefixLookup(p.Prefix)
	default:
		return nil
	}
}

// Explain returns a human-readable explanation of the plan
func (p *Plan) Explain() map[string]interface{} {
	result := map[string]interface{}{
		"estimatedCost": p.EstimatedCost,
		"useIndex":      p.UseIndex,
	}

	if !p.UseIndex {
		result["scanType"] = "COLLECTION_SCAN"
		result["reason"] = "no suitable index found"
		return result
	}

	result["indexName"] = p.Index.Name()
	switch p.ScanType {
	case ScanTypeIndexExact:
		result["scanType"] = "INDEX_EXACT"
		result["scanKey"] = p.ScanKey
	case ScanTypeIndexRange:
		result["scanType"] = "INDEX_RANGE"
		if p.ScanStart != nil {
			result["scanStart"] = p.ScanStart
		}
		if p.ScanEnd != nil {
			result["scanEnd"] = p.ScanEnd
		}
	case ScanTypeIndexPrefix:
		result["scanType"] = "INDEX_PREFIX"
		result["prefix"] = p.Prefix.String()
	}
	return result
}

// Planner chooses an access path for a filter using a collection's indexes
type Planner struct {
	manager *index.Manager
}

// NewPlanner creates a new query planner
func NewPlanner(manager *index.Manager) *Planner {
	return &Planner{manager: manager}
}

// Plan creates an execution plan for a filter. Only top-level field
// constraints are considered for index selection; everything else falls back
// to a collection scan.
func (p *Planner) Plan(filter map[string]interface{}) *Plan {
	plan := &Plan{
		ScanType:      ScanTypeCollection,
		EstimatedCost: 1000000, // High cost for collection scan
	}

	if len(filter) == 0 {
		return plan
	}

	for _, idx := range p.manager.All() {
		var candidate *Plan
		if idx.IsCompound() {
			candidate = p.planCompoundIndex(idx, filter)
		} else {
			candidate = p.planSingleFieldIndex(idx, filter)
		}
		if candidate != nil && candidate.EstimatedCost < plan.EstimatedCost {
			plan = candidate
		}
	}

	return plan
}

// planSingleFieldIndex analyzes whether an index on one field serves a filter
func (p *Planner) planSingleFieldIndex(idx *index.Index, filter map[string]interface{}) *Plan {
	value, constrained := filter[idx.FieldPath()]
	if !constrained {
		return nil
	}

	opMap, isOpMap := value.(map[string]interface{})
	if !isOpMap || !hasOperatorKeys(opMap) {
		// Direct value (implicit $eq)
		return &Plan{
			UseIndex:      true,
			Index:         idx,
			ScanType:      ScanTypeIndexExact,
			ScanKey:       document.Normalize(value),
			EstimatedCost: 10,
		}
	}

	if eqValue, hasEq := opMap["$eq"]; hasEq {
		return &Plan{
			UseIndex:      true,
			Index:         idx,
			ScanType:      ScanTypeIndexExact,
			ScanKey:       document.Normalize(eqValue),
			EstimatedCost: 10,
		}
	}

	// Range scan, inclusive, on at most ONE bound. Array fields put one key
	// per element into the index, and a document can meet the lower bound
	// with one element and the upper bound with another; a scan clamped on
	// both ends would miss it. The scan only narrows candidates by a single
	// bound, the predicate re-check enforces everything else including
	// strictness and the second bound.
	var start, end interface{}
	hasStart, hasEnd := false, false
	for opStr, opValue := range opMap {
		switch Operator(opStr) {
		case OpGreaterThan, OpGreaterThanOrEqual:
			start = document.Normalize(opValue)
			hasStart = true
		case OpLessThan, OpLessThanOrEqual:
			end = document.Normalize(opValue)
			hasEnd = true
		}
	}
	if !hasStart && !hasEnd {
		return nil
	}
	if hasStart && hasEnd {
		end = nil
	}

	return &Plan{
		UseIndex:      true,
		Index:         idx,
		ScanType:      ScanTypeIndexRange,
		ScanStart:     start,
		ScanEnd:       end,
		EstimatedCost: 50,
	}
}

// planCompoundIndex analyzes whether a compound index serves a filter via
// equality on its leading fields
func (p *Planner) planCompoundIndex(idx *index.Index, filter map[string]interface{}) *Plan {
	values := make([]interface{}, 0, len(idx.FieldPaths()))

	for _, fieldPath := range idx.FieldPaths() {
		value, constrained := filter[fieldPath]
		if !constrained {
			break // Cannot skip fields in a compound index
		}

		if opMap, isOpMap := value.(map[string]interface{}); isOpMap && hasOperatorKeys(opMap) {
			eqValue, hasEq := opMap["$eq"]
			if !hasEq {
				break // Only equality participates in compound matching
			}
			value = eqValue
		}
		values = append(values, value)
	}

	if len(values) == 0 {
		return nil
	}

	key := index.NewCompositeKey(values...)

	if len(values) == len(idx.FieldPaths()) {
		return &Plan{
			UseIndex:      true,
			Index:         idx,
			ScanType:      ScanTypeIndexExact,
			ScanKey:       key,
			EstimatedCost: 10,
		}
	}

	return &Plan{
		UseIndex:      true,
		Index:         idx,
		ScanType:      ScanTypeIndexPrefix,
		Prefix:        key,
		EstimatedCost: 20,
	}
}
