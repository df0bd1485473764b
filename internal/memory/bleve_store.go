package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
)

// BleveStore implements Store with a BM25 full-text index on disk.
type BleveStore struct {
	mu    sync.RWMutex
	index bleve.Index
}

// outcomeDocument is the indexed shape of a Record.
type outcomeDocument struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	Decision    string    `json:"decision"`
	BestScore   float64   `json:"best_score"`
	Lessons     string    `json:"lessons"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewBleveStore opens or creates the index under basePath.
func NewBleveStore(basePath string) (*BleveStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	indexPath := filepath.Join(basePath, "outcomes.bleve")

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", err)
		}
	}

	return &BleveStore{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	keywordField := bleve.NewKeywordFieldMapping()
	numericField := bleve.NewNumericFieldMapping()
	dateField := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("description", textField)
	doc.AddFieldMappingsAt("lessons", textField)
	doc.AddFieldMappingsAt("decision", keywordField)
	doc.AddFieldMappingsAt("task_id", keywordField)
	doc.AddFieldMappingsAt("best_score", numericField)
	doc.AddFieldMappingsAt("created_at", dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Remember indexes one task outcome.
func (s *BleveStore) Remember(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	doc := outcomeDocument{
		ID:          rec.ID,
		TaskID:      rec.TaskID,
		Description: rec.Description,
		Decision:    rec.Decision,
		BestScore:   rec.BestScore,
		Lessons:     rec.Lessons,
		CreatedAt:   rec.CreatedAt,
	}
	if err := s.index.Index(rec.ID, doc); err != nil {
		return fmt.Errorf("failed to index outcome: %w", err)
	}
	return nil
}

// Recall searches past outcomes by description and lessons.
func (s *BleveStore) Recall(ctx context.Context, query string, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	searchReq := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	searchReq.Size = limit
	searchReq.Fields = []string{"*"}

	searchResult, err := s.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var results []Result
	for _, hit := range searchResult.Hits {
		// BM25 scores are unbounded; squash into (0,1).
		score := hit.Score
		if score > 1 {
			score = 1 - 1/(1+score)
		}

		description, _ := hit.Fields["description"].(string)
		decision, _ := hit.Fields["decision"].(string)
		taskID, _ := hit.Fields["task_id"].(string)
		lessons, _ := hit.Fields["lessons"].(string)
		bestScore, _ := hit.Fields["best_score"].(float64)

		results = append(results, Result{
			Record: Record{
				ID:          hit.ID,
				TaskID:      taskID,
				Description: description,
				Decision:    decision,
				BestScore:   bestScore,
				Lessons:     lessons,
			},
			Score: score,
		})
	}
	return results, nil
}

// Forget deletes an outcome by ID.
func (s *BleveStore) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Delete(id)
}

// Close closes the index.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}
