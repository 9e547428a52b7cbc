package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Extractor represents a stored extraction specification for data transfer between layers.
type Extractor struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Schema       json.RawMessage `json:"schema"`
	Instructions string          `json:"instructions"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ExtractorInput carries the mutable fields of an Extractor on create and update.
type ExtractorInput struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Schema       json.RawMessage `json:"schema"`
	Instructions string          `json:"instructions"`
}
