package aggregation

import (
	"fmt"

	"github.com/mnohosten/nora-db/pkg/document"
)

// OutStage writes the pipeline's output into a named collection, replacing
// its previous contents in one step. It is only valid as the final stage.
type OutStage struct {
	target string
}

func newOutStage(spec interface{}) (*OutStage, error) {
	target, ok := spec.(string)
	if !ok || target == "" {
		return nil, fmt.Errorf("$out requires a collection name: %w", ErrInvalidPipeline)
	}
	return &OutStage{target: target}, nil
}

func (s *OutStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	if env == nil {
		return nil, fmt.Errorf("$out to %s: %w", s.target, ErrNoEnvironment)
	}

	stored := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		stored = append(stored, doc.Clone())
	}

	if err := env.ReplaceCollection(s.target, stored); err != nil {
		return nil, fmt.Errorf("$out to %s: %w", s.target, err)
	}

	return docs, nil
}

func (s *OutStage) Type() string {
	return "$out"
}
