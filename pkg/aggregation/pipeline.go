package aggregation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mnohosten/nora-db/pkg/document"
	"github.com/mnohosten/nora-db/pkg/query"
)

// Env gives pipeline stages access to other collections of the owning
// database: $lookup reads from one, $out replaces one. Pipelines without
// those stages run with a nil Env.
type Env interface {
	// CollectionDocs returns a snapshot of a named collection's documents
	// in insertion order
	CollectionDocs(name string) ([]*document.Document, error)

	// ReplaceCollection atomically replaces a named collection's contents,
	// creating it when absent
	ReplaceCollection(name string, docs []*document.Document) error
}

// Pipeline represents a compiled aggregation pipeline
type Pipeline struct {
	stages []Stage
}

// Stage represents a single transform in the pipeline. Stages are immutable
// once compiled and never mutate their input documents.
type Stage interface {
	Execute(docs []*document.Document, env Env) ([]*document.Document, error)
	Type() string
}

// NewPipeline compiles stage definitions into a pipeline. Stage shape is
// validated up front: unknown stages fail with ErrInvalidOperator and a
// non-terminal $out fails with ErrInvalidPipeline, before anything runs.
func NewPipeline(stages []map[string]interface{}) (*Pipeline, error) {
	pipeline := &Pipeline{
		stages: make([]Stage, 0, len(stages)),
	}

	for i, stageDef := range stages {
		stage, err := createStage(stageDef)
		if err != nil {
			return nil, err
		}
		if stage.Type() == "$out" && i != len(stages)-1 {
			return nil, fmt.Errorf("$out must be the last stage: %w", ErrInvalidPipeline)
		}
		pipeline.stages = append(pipeline.stages, stage)
	}

	return pipeline, nil
}

// Execute runs the stages in declaration order, each consuming the ordered
// sequence produced by the previous one
func (p *Pipeline) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	result := docs

	for _, stage := range p.stages {
		var err error
		result, err = stage.Execute(result, env)
		if err != nil {
			return nil, fmt.Errorf("stage %s failed: %w", stage.Type(), err)
		}
	}

	return result, nil
}

// createStage creates a stage from a definition
func createStage(stageDef map[string]interface{}) (Stage, error) {
	if len(stageDef) != 1 {
		return nil, fmt.Errorf("stage must have exactly one operator: %w", ErrInvalidPipeline)
	}

	for stageType, stageSpec := range stageDef {
		switch stageType {
		case "$match":
			return newMatchStage(stageSpec)
		case "$project":
			return newProjectStage(stageSpec)
		case "$sort":
			return newSortStage(stageSpec)
		case "$limit":
			return newLimitStage(stageSpec)
		case "$skip":
			return newSkipStage(stageSpec)
		case "$group":
			return newGroupStage(stageSpec)
		case "$unwind":
			return newUnwindStage(stageSpec)
		case "$lookup":
			return newLookupStage(stageSpec)
		case "$count":
			return newCountStage(stageSpec)
		case "$out":
			return newOutStage(stageSpec)
		default:
			return nil, fmt.Errorf("unsupported stage type %s: %w", stageType, query.ErrInvalidOperator)
		}
	}
	return nil, fmt.Errorf("empty stage definition: %w", ErrInvalidPipeline)
}

// evalExpression evaluates a stage expression against a document: "$path"
// strings dereference the document, documents evaluate field-wise, anything
// else is a literal
func evalExpression(doc *document.Document, expr interface{}) (interface{}, bool) {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") {
			return doc.LookupPath(e[1:])
		}
		return e, true
	case map[string]interface{}:
		return evalExpression(doc, document.Normalize(e))
	case *document.Document:
		result := document.NewDocument()
		for _, key := range e.Keys() {
			sub, _ := e.Get(key)
			v, _ := evalExpression(doc, sub)
			result.Set(key, v)
		}
		return result, true
	default:
		return document.Normalize(expr), true
	}
}

// MatchStage filters documents with a compiled query predicate
type MatchStage struct {
	query  *query.Query
	filter map[string]interface{}
}

func newMatchStage(spec interface{}) (*MatchStage, error) {
	filter, ok := spec.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("$match requires a filter object: %w", ErrInvalidPipeline)
	}

	q, err := query.NewQuery(filter)
	if err != nil {
		return nil, err
	}

	return &MatchStage{query: q, filter: filter}, nil
}

func (s *MatchStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	result := make([]*document.Document, 0)
	for _, doc := range docs {
		if s.query.Matches(doc) {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (s *MatchStage) Type() string {
	return "$match"
}

// Filter exposes the raw filter so the store can plan an index-assisted scan
// when $match is the first stage
func (s *MatchStage) Filter() map[string]interface{} {
	return s.filter
}

// ProjectStage reshapes documents: inclusion or exclusion of stored fields
// plus computed expressions. Inclusion and exclusion cannot be mixed within
// one stage except for _id.
type ProjectStage struct {
	inclusion bool
	includeID bool
	fields    []projectField
}

type projectField struct {
	name     string
	computed bool
	expr     interface{}
}

func newProjectStage(spec interface{}) (*ProjectStage, error) {
	projection, ok := spec.(map[string]interface{})
	if !ok || len(projection) == 0 {
		return nil, fmt.Errorf("$project requires a projection object: %w", ErrInvalidPipeline)
	}

	stage := &ProjectStage{includeID: true}
	hasInclusion := false
	hasExclusion := false

	for _, field := range sortedKeys(projection) {
		value := projection[field]

		switch v := document.Normalize(value).(type) {
		case bool:
			if field == "_id" {
				stage.includeID = v
				continue
			}
			if v {
				hasInclusion = true
				stage.fields = append(stage.fields, projectField{name: field})
			} else {
				hasExclusion = true
				stage.fields = append(stage.fields, projectField{name: field})
			}
		case int64:
			if field == "_id" {
				stage.includeID = v != 0
				continue
			}
			if v != 0 {
				hasInclusion = true
				stage.fields = append(stage.fields, projectField{name: field})
			} else {
				hasExclusion = true
				stage.fields = append(stage.fields, projectField{name: field})
			}
		default:
			// Computed field implies inclusion mode
			hasInclusion = true
			stage.fields = append(stage.fields, projectField{name: field, computed: true, expr: value})
		}
	}

	if hasInclusion && hasExclusion {
		return nil, fmt.Errorf("$project cannot mix inclusion and exclusion: %w", ErrInvalidPipeline)
	}
	stage.inclusion = hasInclusion

	return stage, nil
}

func (s *ProjectStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	result := make([]*document.Document, 0, len(docs))

	for _, doc := range docs {
		projected := document.NewDocument()

		if s.inclusion {
			if s.includeID {
				if id, exists := doc.Get("_id"); exists {
					projected.Set("_id", id)
				}
			}
			for _, field := range s.fields {
				if field.computed {
					if v, ok := evalExpression(doc, field.expr); ok {
						projected.Set(field.name, v)
					}
					continue
				}
				if value, exists := doc.LookupPath(field.name); exists {
					projected.SetPath(field.name, value)
				}
			}
		} else {
			excluded := make(map[string]bool, len(s.fields))
			for _, field := range s.fields {
				excluded[field.name] = true
			}
			for _, key := range doc.Keys() {
				if excluded[key] {
					continue
				}
				if key == "_id" && !s.includeID {
					continue
				}
				if value, exists := doc.Get(key); exists {
					projected.Set(key, value)
				}
			}
		}

		result = append(result, projected)
	}

	return result, nil
}

func (s *ProjectStage) Type() string {
	return "$project"
}

// SortStage stable-sorts the full sequence by the specified fields
type SortStage struct {
	sortFields []query.SortField
}

func newSortStage(spec interface{}) (*SortStage, error) {
	sortDoc, ok := document.Normalize(spec).(*document.Document)
	if !ok || sortDoc.Len() == 0 {
		return nil, fmt.Errorf("$sort requires a sort specification: %w", ErrInvalidPipeline)
	}

	sortFields := make([]query.SortField, 0, sortDoc.Len())
	for _, field := range sortDoc.Keys() {
		order, _ := sortDoc.Get(field)
		direction, isInt := document.Normalize(order).(int64)
		if !isInt || (direction != 1 && direction != -1) {
			return nil, fmt.Errorf("$sort direction for %s must be 1 or -1: %w", field, ErrInvalidPipeline)
		}
		sortFields = append(sortFields, query.SortField{
			Field:     field,
			Ascending: direction > 0,
		})
	}

	return &SortStage{sortFields: sortFields}, nil
}

func (s *SortStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	result := make([]*document.Document, len(docs))
	copy(result, docs)

	query.SortDocuments(result, s.sortFields)
	return result, nil
}

func (s *SortStage) Type() string {
	return "$sort"
}

// LimitStage truncates the sequence
type LimitStage struct {
	limit int
}

func newLimitStage(spec interface{}) (*LimitStage, error) {
	limit, ok := document.Normalize(spec).(int64)
	if !ok || limit < 0 {
		return nil, fmt.Errorf("$limit requires a non-negative integer: %w", ErrInvalidPipeline)
	}
	return &LimitStage{limit: int(limit)}, nil
}

func (s *LimitStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	if s.limit >= len(docs) {
		return docs, nil
	}
	return docs[:s.limit], nil
}

func (s *LimitStage) Type() string {
	return "$limit"
}

// SkipStage drops the sequence's leading documents
type SkipStage struct {
	skip int
}

func newSkipStage(spec interface{}) (*SkipStage, error) {
	skip, ok := document.Normalize(spec).(int64)
	if !ok || skip < 0 {
		return nil, fmt.Errorf("$skip requires a non-negative integer: %w", ErrInvalidPipeline)
	}
	return &SkipStage{skip: int(skip)}, nil
}

func (s *SkipStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	if s.skip >= len(docs) {
		return []*document.Document{}, nil
	}
	return docs[s.skip:], nil
}

func (s *SkipStage) Type() string {
	return "$skip"
}

// CountStage replaces the sequence with a single document holding its length
type CountStage struct {
	field string
}

func newCountStage(spec interface{}) (*CountStage, error) {
	field, ok := spec.(string)
	if !ok || field == "" {
		return nil, fmt.Errorf("$count requires a non-empty field name: %w", ErrInvalidPipeline)
	}
	return &CountStage{field: field}, nil
}

func (s *CountStage) Execute(docs []*document.Document, env Env) ([]*document.Document, error) {
	result := document.NewDocument()
	result.Set(s.field, int64(len(docs)))
	return []*document.Document{result}, nil
}

func (s *CountStage) Type() string {
	return "$count"
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic stage compilation regardless of map iteration order
	sort.Strings(keys)
	return keys
}
