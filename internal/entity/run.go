package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExtractionRun represents one recorded extraction for data transfer between layers.
type ExtractionRun struct {
	ID           uuid.UUID       `json:"id"`
	ExtractorID  *uuid.UUID      `json:"extractor_id,omitempty"`
	Status       string          `json:"status"`
	Stage        *string         `json:"stage,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Attempts     int             `json:"attempts"`
	Records      json.RawMessage `json:"records,omitempty"`
	ModelName    *string         `json:"model_name,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
