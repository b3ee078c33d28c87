package aggregation

import (
	"fmt"
	"strings"

	"github.com/mnohosten/nora-db/pkg/document"
)

// UnwindStage expands each document into one output document per element of
// an array field. Documents whose field is missing, null, or an empty array
// are dropped unless preserveNullAndEmptyArrays is set.
type UnwindStage struct {
	path          string
	preserveEmpty bool
}

func newUnwindStage(spec interface{}) (*UnwindStage, error) {
	switch s := spec.(type) {
	case string:
		path, err := unwindPath(s)
		if err != nil {
			return nil, err
		}
		return &UnwindStage{path: path}, nil
	case map[string]interface{}:
		rawPath, ok := s["path"].(string)
		if !ok {
			return nil, fmt.Errorf("$unwind requires a path: %w", ErrInvalidPipeline)
		}
		path, err := unwindPath(rawPath)
		if err != nil {
			return nil, err
		}
		stage := &UnwindStage{path: path}
		if preserve, exists := s["preserveNullAndEmptyArrays"]; exists {
			flag, isBool := preserve.(bool)
			if !isBool {
				return nil, fmt.Errorf("preserveNullAndEmptyArrays must be a boolean: %w", ErrInvalidPipeline)
			}
			stage.preserveEmpty = flag
		}
		return stage, nil
	default:
		return nil, fmt.Errorf("$unwind requires a path or an options object: %w", ErrInvalidPipeline)
	}
}

func unwindPath(raw string) (string, error) {
	if !strings.HasPrefix(raw, "$") || len(raw) < 2 {
		return "", fmt.Errorf("$unwind path must start with $: %w", ErrInvalidPipeline)
	}
	return raw[1:], nil
}

func (s *UnwindStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	result := make([]*document.Document, 0, len(docs))

	for _, doc := range docs {
		value, exists := doc.LookupPath(s.path)
		if !exists || value == nil {
			if s.preserveEmpty {
				result = append(result, doc)
			}
			continue
		}

		array, isArray := value.([]interface{})
		if !isArray {
			// Non-array values pass through as a single output document
			result = append(result, doc)
			continue
		}

		if len(array) == 0 {
			if s.preserveEmpty {
				unwound := doc.Clone()
				unwound.DeletePath(s.path)
				result = append(result, unwound)
			}
			continue
		}

		for _, element := range array {
			unwound := doc.Clone()
			unwound.SetPath(s.path, element)
			result = append(result, unwound)
		}
	}

	return result, nil
}

func (s *UnwindStage) Type() string {
	return "$unwind"
}
