package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// ExtractInput is the JSON body of an extract call, shared by the REST,
// gRPC and CLI front ends. Data is base64 in JSON.
type ExtractInput struct {
	ExtractorID  string          `json:"extractor_id,omitempty" yaml:"extractor_id,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty" yaml:"-"`
	Instructions string          `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Examples     []ExampleInput  `json:"examples,omitempty" yaml:"-"`
	Text         string          `json:"text,omitempty" yaml:"text,omitempty"`
	ContentType  string          `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Data         []byte          `json:"data,omitempty" yaml:"-"`
	Filename     string          `json:"filename,omitempty" yaml:"filename,omitempty"`
	Model        string          `json:"model,omitempty" yaml:"model,omitempty"`
	ChunkSize    int             `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	ChunkOverlap int             `json:"chunk_overlap,omitempty" yaml:"chunk_overlap,omitempty"`
}

type ExampleInput struct {
	Content string          `json:"content"`
	Output  json.RawMessage `json:"output"`
}

// SuggestInput is the JSON body of a suggest call.
type SuggestInput struct {
	Description  string          `json:"description"`
	CurrentDraft json.RawMessage `json:"current_draft,omitempty"`
}

// Request converts in to a pipeline Request. Exactly one of ExtractorID and
// Schema must be set.
func (in ExtractInput) Request() (Request, error) {
	id := strings.TrimSpace(in.ExtractorID)
	hasSchema := len(in.Schema) > 0 && string(in.Schema) != "null"
	switch {
	case id != "" && hasSchema:
		return Request{}, common.NewStageError(constants.StageResolve, "set either extractor_id or schema, not both", common.ErrInvalidInput)
	case id == "" && !hasSchema:
		return Request{}, common.NewStageError(constants.StageResolve, "extractor_id or schema is required", common.ErrInvalidInput)
	}

	req := Request{
		Document: Document{
			ContentType: in.ContentType,
			Text:        in.Text,
			Data:        in.Data,
			Filename:    in.Filename,
		},
		ModelName: strings.TrimSpace(in.Model),
	}
	if in.ChunkSize > 0 {
		req.Chunking = &Chunking{Size: in.ChunkSize, Overlap: in.ChunkOverlap}
	}

	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return Request{}, fmt.Errorf("extractor_id %q: %w", id, common.ErrInvalidInput)
		}
		req.ExtractorID = parsed
		return req, nil
	}

	spec := &Spec{Schema: in.Schema, Instructions: in.Instructions}
	v := common.NewValidator()
	for i, ex := range in.Examples {
		out := ex.Output
		if len(out) == 0 {
			out = json.RawMessage("[]")
		}
		v.Field(fmt.Sprintf("examples[%d].output", i), []byte(out), common.JSONArray)
		spec.Examples = append(spec.Examples, entity.Example{Content: ex.Content, Output: out})
	}
	if err := v.Err(); err != nil {
		return Request{}, err
	}
	req.Spec = spec
	return req, nil
}

// Draft returns the current draft as text; an absent draft is "".
func (in SuggestInput) Draft() string {
	d := strings.TrimSpace(string(in.CurrentDraft))
	if d == "null" {
		return ""
	}
	return d
}
