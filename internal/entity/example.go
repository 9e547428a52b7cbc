package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Example is a few-shot demonstration owned by one Extractor.
type Example struct {
	ID          uuid.UUID       `json:"id"`
	ExtractorID uuid.UUID       `json:"extractor_id"`
	Content     string          `json:"content"`
	Output      json.RawMessage `json:"output"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Records decodes Output into a slice of records.
func (e Example) Records() ([]map[string]any, error) {
	var recs []map[string]any
	if len(e.Output) == 0 {
		return recs, nil
	}
	if err := json.Unmarshal(e.Output, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
