// Package extraction runs the end-to-end extraction and schema-suggestion
// pipelines: resolve, load, render, invoke, reconcile.
package extraction

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/prompt"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/schema"
)

const instrumentationName = "github.com/joseph-ayodele/docextract/internal/extraction"

// Config holds pipeline policy.
type Config struct {
	RequestTimeout    time.Duration // ceiling for one Extract or SuggestSchema call
	MaxRepairAttempts int           // 0 = constants.MaxRepairAttempts; negative disables repair
	ChunkSize         int           // words; 0 = whole document in one call
	ChunkOverlap      int
	MaxConcurrency    int // chunks in flight
}

type Service struct {
	Extractors ExtractorReader
	Examples   ExampleReader
	Loader     DocumentLoader
	Invoker    ModelInvoker
	Runs       RunRecorder
	Logger     *slog.Logger

	cfg        Config
	reconciler *reconcile.Reconciler
	metrics    *metrics.Collector
	tracer     trace.Tracer
	schemas    sync.Map // uuid.UUID -> cachedSchema
}

type cachedSchema struct {
	updatedAt time.Time
	compiled  *schema.Compiled
}

type Option func(*Service)

// WithRunRecorder records every extraction as an ExtractionRun.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Service) { s.Runs = r }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(cfg Config, extractors ExtractorReader, examples ExampleReader, loader DocumentLoader, invoker ModelInvoker, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = constants.DefaultRequestTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxRepairAttempts == 0 {
		cfg.MaxRepairAttempts = constants.MaxRepairAttempts
	}
	s := &Service{
		Extractors: extractors,
		Examples:   examples,
		Loader:     loader,
		Invoker:    invoker,
		Logger:     logger,
		cfg:        cfg,
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconciler = reconcile.New(
		reconcile.WithMaxRepairs(cfg.MaxRepairAttempts),
		reconcile.WithMetrics(s.metrics),
		reconcile.WithLogger(logger),
	)
	return s
}

// resolved is everything the pipeline needs from an extractor.
type resolved struct {
	extractorID  *uuid.UUID
	compiled     *schema.Compiled
	instructions string
	examples     []entity.Example
}

// Extract runs the extraction pipeline. Every error is a *common.AppError
// tagged with the failing stage.
func (s *Service) Extract(ctx context.Context, req Request) (res *Result, err error) {
	ctx, rid := common.EnsureRequestID(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "extraction.extract", trace.WithAttributes(
		attribute.String("request.id", rid),
		attribute.String("document.content_type", req.Document.ContentType),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		n := 0
		if res != nil {
			n = len(res.Records)
		}
		code := "OK"
		if err != nil {
			code = common.CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		s.metrics.RecordExtraction("extract", code, time.Since(start), n)
	}()

	r, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.extractorID != nil {
		ctx = common.WithExtractorID(ctx, r.extractorID.String())
		span.SetAttributes(attribute.String("extractor.id", r.extractorID.String()))
	}

	var attempts atomic.Int64
	run := s.startRun(ctx, r.extractorID, req.ModelName)
	defer func() { s.finishRun(ctx, run, res, int(attempts.Load()), err) }()

	s.Logger.Info("extract.start", "request_id", rid, "extractor_id", r.extractorID,
		"examples", len(r.examples), "content_type", req.Document.ContentType, "filename", req.Document.Filename)

	text, err := s.load(ctx, req.Document)
	if err != nil {
		return nil, err
	}

	chunking := Chunking{Size: s.cfg.ChunkSize, Overlap: s.cfg.ChunkOverlap}
	if req.Chunking != nil {
		chunking = *req.Chunking
	}
	chunks := splitWords(text, chunking.Size, chunking.Overlap)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	outcomes := make([]*reconcile.Outcome, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := s.extractChunk(gctx, r, chunk, req.ModelName)
			attempts.Add(int64(modelCalls(out, err)))
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res = &Result{Records: mergeChunks(outcomes, chunking.Overlap), Chunks: len(chunks), ExtractorID: r.extractorID}
	for _, out := range outcomes {
		res.Attempts += 1 + out.Repairs
	}
	s.Logger.Info("extract.done", "request_id", rid, "records", len(res.Records),
		"attempts", res.Attempts, "chunks", len(chunks), "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (s *Service) resolve(ctx context.Context, req Request) (*resolved, error) {
	if req.Spec != nil {
		c, err := schema.Compile(req.Spec.Schema)
		if err != nil {
			return nil, common.NewStageError(constants.StageSchema, "compile ad-hoc schema", err)
		}
		return &resolved{compiled: c, instructions: req.Spec.Instructions, examples: req.Spec.Examples}, nil
	}
	if req.ExtractorID == uuid.Nil {
		return nil, common.NewStageError(constants.StageResolve, "extractor id or ad-hoc spec is required", common.ErrInvalidInput)
	}
	if s.Extractors == nil {
		return nil, common.NewStageError(constants.StageResolve, "no extractor store configured", common.ErrInternal)
	}

	ext, err := s.Extractors.Get(ctx, req.ExtractorID)
	if err != nil {
		return nil, common.NewStageError(constants.StageResolve, "get extractor "+req.ExtractorID.String(), err)
	}
	var examples []entity.Example
	if s.Examples != nil {
		examples, err = s.Examples.ListByExtractor(ctx, ext.ID)
		if err != nil {
			return nil, common.NewStageError(constants.StageResolve, "list examples", err)
		}
	}
	c, err := s.compiledFor(ext)
	if err != nil {
		return nil, common.NewStageError(constants.StageSchema, "compile extractor schema", err)
	}
	id := ext.ID
	return &resolved{extractorID: &id, compiled: c, instructions: ext.Instructions, examples: examples}, nil
}

// compiledFor returns the cached compiled schema for ext, recompiling when
// the extractor has been updated since.
func (s *Service) compiledFor(ext *entity.Extractor) (*schema.Compiled, error) {
	if v, ok := s.schemas.Load(ext.ID); ok {
		if cs := v.(cachedSchema); cs.updatedAt.Equal(ext.UpdatedAt) {
			return cs.compiled, nil
		}
	}
	c, err := schema.Compile(ext.Schema)
	if err != nil {
		return nil, err
	}
	s.schemas.Store(ext.ID, cachedSchema{updatedAt: ext.UpdatedAt, compiled: c})
	return c, nil
}

func (s *Service) load(ctx context.Context, doc Document) (string, error) {
	if s.Loader == nil {
		return "", common.NewStageError(constants.StageLoad, "no document loader configured", common.ErrInternal)
	}
	ct, payload := doc.ContentType, doc.Data
	if len(payload) == 0 {
		payload = []byte(doc.Text)
		if ct == "" {
			ct = constants.ContentTypeText
		}
	}
	if len(payload) == 0 {
		return "", common.NewStageError(constants.StageLoad, "document is empty", common.ErrEmptyDocument)
	}
	out, err := s.Loader.Load(ctx, ct, payload)
	if err != nil {
		return "", common.NewStageError(constants.StageLoad, "load document", err)
	}
	return out.Text, nil
}

func (s *Service) extractChunk(ctx context.Context, r *resolved, text, model string) (*reconcile.Outcome, error) {
	msgs, err := prompt.Render(r.compiled, r.instructions, r.examples, text)
	if err != nil {
		return nil, common.NewStageError(constants.StageRender, "render prompt", err)
	}
	opts := llm.Options{Model: model, JSONMode: true}

	raw, err := s.Invoker.Invoke(ctx, msgs, opts)
	if err != nil {
		return nil, common.NewStageError(constants.StageInvoke, "invoke model", err)
	}

	out, err := s.reconciler.Reconcile(ctx, raw, r.compiled, s.repairWith(msgs, opts))
	if err != nil {
		return nil, common.NewStageError(constants.StageReconcile, "reconcile model output", err)
	}
	s.Invoker.Remember(ctx, msgs, opts, out.Raw)
	return out, nil
}

// modelCalls counts the model calls one chunk made, whether or not it succeeded.
func modelCalls(out *reconcile.Outcome, err error) int {
	if out != nil {
		return 1 + out.Repairs
	}
	if n, ok := reconcile.RepairsOf(err); ok {
		return 1 + n
	}
	if common.StageOf(err) == constants.StageInvoke {
		return 1
	}
	return 0
}

// repairWith re-asks the model with base plus the rejected output and the diagnostic.
func (s *Service) repairWith(base []llm.Message, opts llm.Options) reconcile.RepairFunc {
	return func(ctx context.Context, lastRaw string, d *reconcile.Diagnostic) (string, error) {
		return s.Invoker.Invoke(ctx, prompt.RepairMessages(base, lastRaw, d.Error()), opts)
	}
}

// SuggestSchema drafts a JSON Schema from description, refining currentDraft
// when one is given. Nothing is persisted.
func (s *Service) SuggestSchema(ctx context.Context, description, currentDraft string) (sug *Suggestion, err error) {
	ctx, rid := common.EnsureRequestID(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "extraction.suggest_schema", trace.WithAttributes(attribute.String("request.id", rid)))
	defer span.End()

	start := time.Now()
	defer func() {
		code := "OK"
		if err != nil {
			code = common.CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		s.metrics.RecordExtraction("suggest", code, time.Since(start), 0)
	}()

	msgs, err := prompt.RenderSuggestion(description, currentDraft)
	if err != nil {
		return nil, common.NewStageError(constants.StageRender, "render suggestion prompt", err)
	}
	opts := llm.Options{JSONMode: true}

	s.Logger.Info("suggest.start", "request_id", rid, "description_len", len(description))
	raw, err := s.Invoker.Invoke(ctx, msgs, opts)
	if err != nil {
		return nil, common.NewStageError(constants.StageInvoke, "invoke model", err)
	}
	out, err := s.reconciler.ReconcileSchema(ctx, raw, s.repairWith(msgs, opts))
	if err != nil {
		return nil, common.NewStageError(constants.StageReconcile, "reconcile suggested schema", err)
	}
	s.Invoker.Remember(ctx, msgs, opts, out.Raw)
	s.Logger.Info("suggest.done", "request_id", rid, "repairs", out.Repairs, "duration_ms", time.Since(start).Milliseconds())
	return &Suggestion{Schema: out.Schema.Raw(), Attempts: 1 + out.Repairs}, nil
}

// startRun records a RUNNING row; recorder failures are logged and otherwise ignored.
func (s *Service) startRun(ctx context.Context, extractorID *uuid.UUID, model string) *entity.ExtractionRun {
	if s.Runs == nil {
		return nil
	}
	run, err := s.Runs.Start(ctx, extractorID, model)
	if err != nil {
		s.Logger.Warn("extract.run.start.failed", "error", err)
		return nil
	}
	return run
}

func (s *Service) finishRun(ctx context.Context, run *entity.ExtractionRun, res *Result, attempts int, err error) {
	if run == nil {
		return
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Attempts = attempts
	if err != nil {
		run.Status = string(constants.RunStatusFailed)
		stage := string(common.StageOf(err))
		msg := err.Error()
		run.Stage, run.ErrorMessage = &stage, &msg
	} else {
		run.Status = string(constants.RunStatusSucceeded)
		if b, mErr := reconcile.Marshal(res.Records); mErr == nil {
			run.Records = b
		}
		id := run.ID
		res.RunID = &id
	}

	// record even if the request context is already done
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if fErr := s.Runs.Finish(fctx, run); fErr != nil {
		s.Logger.Warn("extract.run.finish.failed", "run_id", run.ID, "error", fErr)
	}
}
