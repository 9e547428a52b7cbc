package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/extraction"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/schema"
)

// Pipeline is the part of extraction.Service the transports need.
type Pipeline interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
	SuggestSchema(ctx context.Context, description, currentDraft string) (*extraction.Suggestion, error)
}

// ExtractionServer implements ExtractionService on top of the pipeline and
// the extractor and example repositories.
type ExtractionServer struct {
	pipeline   Pipeline
	extractors repository.ExtractorRepository
	examples   repository.ExampleRepository
	logger     *slog.Logger
}

func NewExtractionServer(p Pipeline, extractors repository.ExtractorRepository, examples repository.ExampleRepository, logger *slog.Logger) *ExtractionServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionServer{pipeline: p, extractors: extractors, examples: examples, logger: logger}
}

var _ ExtractionService = (*ExtractionServer)(nil)

// Extract runs the pipeline. Struct numbers are doubles, so integers beyond
// 2^53 in "data" lose precision; "records_json" carries the same records as
// canonical JSON text with numbers exactly as the model produced them.
func (s *ExtractionServer) Extract(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body extraction.ExtractInput
	if err := decode(in, &body); err != nil {
		return nil, err
	}
	req, err := body.Request()
	if err != nil {
		return nil, common.ToGRPCStatus(err)
	}
	res, err := s.pipeline.Extract(ctx, req)
	if err != nil {
		s.logger.Warn("grpc.extract.failed", "error", err, "code", common.CodeOf(err))
		return nil, common.ToGRPCStatus(err)
	}
	out, err := encode(res)
	if err != nil {
		return nil, err
	}
	records, err := schema.MarshalCanonical(res.Records)
	if err != nil {
		return nil, common.ToGRPCStatus(fmt.Errorf("encode records: %w", err))
	}
	out.Fields["records_json"] = structpb.NewStringValue(string(records))
	return out, nil
}

func (s *ExtractionServer) SuggestSchema(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body extraction.SuggestInput
	if err := decode(in, &body); err != nil {
		return nil, err
	}
	sug, err := s.pipeline.SuggestSchema(ctx, body.Description, body.Draft())
	if err != nil {
		s.logger.Warn("grpc.suggest.failed", "error", err, "code", common.CodeOf(err))
		return nil, common.ToGRPCStatus(err)
	}
	return encode(sug)
}

func (s *ExtractionServer) CreateExtractor(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body entity.ExtractorInput
	if err := decode(in, &body); err != nil {
		return nil, err
	}
	e, err := s.extractors.Create(ctx, body)
	if err != nil {
		return nil, common.ToGRPCStatus(err)
	}
	s.logger.Info("grpc.extractor.created", "extractor_id", e.ID, "name", e.Name)
	return encode(e)
}

func (s *ExtractionServer) GetExtractor(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in, "id")
	if err != nil {
		return nil, err
	}
	e, err := s.extractors.Get(ctx, id)
	if err != nil {
		return nil, common.ToGRPCStatus(err)
	}
	return encode(e)
}

func (s *ExtractionServer) ListExtractors(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.extractors.List(ctx)
	if err != nil {
		return nil, common.ToGRPCStatus(err)
	}
	if list == nil {
		list = []entity.Extractor{}
	}
	return encode(map[string]any{"extractors": list})
}

func (s *ExtractionServer) DeleteExtractor(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in, "id")
	if err != nil {
		return nil, err
	}
	if err := s.extractors.Delete(ctx, id); err != nil {
		return nil, common.ToGRPCStatus(err)
	}
	s.logger.Info("grpc.extractor.deleted", "extractor_id", id)
	return &structpb.Struct{}, nil
}

func (s *ExtractionServer) AddExample(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in, "extractor_id")
	if err != nil {
		return nil, err
	}
	var body extraction.ExampleInput
	if err := decode(in, &body); err != nil {
		return nil, err
	}
	ex, err := s.examples.Create(ctx, id, body.Content, body.Output)
	if err != nil {
		return nil, common.ToGRPCStatus(err)
	}
	return encode(ex)
}

func (s *ExtractionServer) ListExamples(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in, "extractor_id")
	if err != nil {
		return nil, err
	}
	list, err := s.examples.ListByExtractor(ctx, id)
	if err != nil {
		return nil, common.ToGRPCStatus(err)
	}
	if list == nil {
		list = []entity.Example{}
	}
	return encode(map[string]any{"examples": list})
}

// ValidateSchema compiles the "schema" field and validates the optional
// "instance" field against it. Problems are reported in the response.
func (s *ExtractionServer) ValidateSchema(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body struct {
		Schema   json.RawMessage `json:"schema"`
		Instance json.RawMessage `json:"instance"`
	}
	if err := decode(in, &body); err != nil {
		return nil, err
	}
	return encode(schema.Check(body.Schema, body.Instance))
}

// decode converts a Struct into dst through its JSON form.
func decode(in *structpb.Struct, dst any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return common.InvalidArgumentErrorf("request: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return common.InvalidArgumentErrorf("request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, common.ToGRPCStatus(fmt.Errorf("encode response: %w", err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, common.ToGRPCStatus(fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}

func idField(in *structpb.Struct, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(in.GetFields()[name].GetStringValue())
	if raw == "" {
		return uuid.Nil, common.InvalidArgumentErrorf("%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("%s must be a UUID", name)
	}
	return id, nil
}
