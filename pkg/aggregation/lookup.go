package aggregation

import (
	"fmt"

	"github.com/mnohosten/nora-db/pkg/document"
)

// LookupStage performs an equality join against another collection. For each
// input document the foreign collection's matching documents are attached as
// an array under the as field.
type LookupStage struct {
	from         string
	localField   string
	foreignField string
	as           string
}

func newLookupStage(spec interface{}) (*LookupStage, error) {
	lookupSpec, ok := spec.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("$lookup requires an options object: %w", ErrInvalidPipeline)
	}

	stage := &LookupStage{}
	fields := map[string]*string{
		"from":         &stage.from,
		"localField":   &stage.localField,
		"foreignField": &stage.foreignField,
		"as":           &stage.as,
	}
	for name, target := range fields {
		value, isString := lookupSpec[name].(string)
		if !isString || value == "" {
			return nil, fmt.Errorf("$lookup requires a %s string: %w", name, ErrInvalidPipeline)
		}
		*target = value
	}

	return stage, nil
}

func (s *LookupStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	if env == nil {
		return nil, fmt.Errorf("$lookup from %s: %w", s.from, ErrNoEnvironment)
	}

	foreign, err := env.CollectionDocs(s.from)
	if err != nil {
		return nil, fmt.Errorf("$lookup from %s: %w", s.from, err)
	}

	result := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		localValue, localExists := doc.LookupPath(s.localField)
		if !localExists {
			localValue = nil
		}

		matches := make([]interface{}, 0)
		for _, candidate := range foreign {
			foreignValue, foreignExists := candidate.LookupPath(s.foreignField)
			if !foreignExists {
				foreignValue = nil
			}
			if joinMatches(localValue, foreignValue) {
				matches = append(matches, candidate.Clone())
			}
		}

		joined := doc.Clone()
		joined.SetPath(s.as, matches)
		result = append(result, joined)
	}

	return result, nil
}

// joinMatches applies array fan-out on both sides of the equality, the same
// way field predicates treat array values
func joinMatches(local, foreign interface{}) bool {
	for _, l := range joinCandidates(local) {
		for _, f := range joinCandidates(foreign) {
			if document.Equals(l, f) {
				return true
			}
		}
	}
	return false
}

func joinCandidates(value interface{}) []interface{} {
	candidates := []interface{}{value}
	if array, isArray := value.([]interface{}); isArray {
		candidates = append(candidates, array...)
	}
	return candidates
}

func (s *LookupStage) Type() string {
	return "$lookup"
}
