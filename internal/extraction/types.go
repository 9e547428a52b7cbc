package extraction

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/document"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

// Document is the input to extract from: either Text or Data with its
// declared ContentType.
type Document struct {
	ContentType string
	Text        string
	Data        []byte
	Filename    string
}

// Spec is an ad-hoc extractor used instead of a stored one.
type Spec struct {
	Schema       json.RawMessage
	Instructions string
	Examples     []entity.Example
}

// Chunking splits long documents into word windows extracted separately.
type Chunking struct {
	Size    int // words per chunk; 0 disables chunking
	Overlap int // words repeated between consecutive chunks
}

// Request names a stored extractor or carries an ad-hoc Spec.
type Request struct {
	ExtractorID uuid.UUID
	Spec        *Spec
	Document    Document
	ModelName   string
	Chunking    *Chunking
}

type Result struct {
	Records     []map[string]any `json:"data"`
	Attempts    int              `json:"attempts"`
	Chunks      int              `json:"chunks"`
	ExtractorID *uuid.UUID       `json:"extractor_id,omitempty"`
	RunID       *uuid.UUID       `json:"run_id,omitempty"`
}

type Suggestion struct {
	Schema   json.RawMessage `json:"schema"`
	Attempts int             `json:"attempts"`
}

// ExtractorReader is the read side of the extractor store.
type ExtractorReader interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Extractor, error)
}

// ExampleReader lists an extractor's examples oldest first.
type ExampleReader interface {
	ListByExtractor(ctx context.Context, extractorID uuid.UUID) ([]entity.Example, error)
}

// RunRecorder persists an audit row per extraction.
type RunRecorder interface {
	Start(ctx context.Context, extractorID *uuid.UUID, modelName string) (*entity.ExtractionRun, error)
	Finish(ctx context.Context, run *entity.ExtractionRun) error
}

type DocumentLoader interface {
	Load(ctx context.Context, contentType string, payload []byte) (document.Result, error)
}

// ModelInvoker calls the model. Remember caches an accepted reply so an
// identical request can be answered without a call.
type ModelInvoker interface {
	Invoke(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error)
	Remember(ctx context.Context, msgs []llm.Message, opts llm.Options, out string)
}
