package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/extraction"
)

// Extractor is the pipeline entry point the processor drives.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// FileResult is the per-file outcome.
type FileResult struct {
	SourcePath   string
	OutputPath   string
	HashHex      string
	Deduplicated bool
	Records      int
}

// Processor extracts records from files with one stored extractor and
// writes each result to OutputDir as <file name>.json.
type Processor struct {
	pipeline    Extractor
	extractorID uuid.UUID
	outputDir   string
	logger      *slog.Logger

	mu   sync.Mutex
	done map[string]string // abs path -> content hash of the last success
}

// NewProcessor returns a Processor. An empty outputDir writes results next
// to their source files.
func NewProcessor(p Extractor, extractorID uuid.UUID, outputDir string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		pipeline:    p,
		extractorID: extractorID,
		outputDir:   outputDir,
		logger:      logger,
		done:        map[string]string{},
	}
}

// Process extracts path unless its content is unchanged since the last
// successful run.
func (p *Processor) Process(ctx context.Context, path string) (FileResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileResult{}, fmt.Errorf("abs path: %w", err)
	}
	out := FileResult{SourcePath: abs, OutputPath: p.outputPath(abs)}

	data, err := os.ReadFile(abs)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", abs, err)
	}
	sum := sha256.Sum256(data)
	out.HashHex = hex.EncodeToString(sum[:])

	p.mu.Lock()
	prev := p.done[abs]
	p.mu.Unlock()
	if prev == out.HashHex {
		p.logger.Info("ingest.file.unchanged", "path", abs, "sha256", out.HashHex)
		out.Deduplicated = true
		return out, nil
	}

	start := time.Now()
	res, err := p.pipeline.Extract(ctx, extraction.Request{
		ExtractorID: p.extractorID,
		Document: extraction.Document{
			ContentType: constants.ContentTypeForExt(filepath.Ext(abs)),
			Data:        data,
			Filename:    filepath.Base(abs),
		},
	})
	if err != nil {
		p.logger.Error("ingest.file.failed", "path", abs, "error", err)
		return out, err
	}
	if err := writeJSON(out.OutputPath, res); err != nil {
		return out, err
	}

	p.mu.Lock()
	p.done[abs] = out.HashHex
	p.mu.Unlock()

	out.Records = len(res.Records)
	p.logger.Info("ingest.file.done",
		"path", abs,
		"output", out.OutputPath,
		"records", out.Records,
		"attempts", res.Attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (p *Processor) outputPath(abs string) string {
	dir := p.outputDir
	if dir == "" {
		dir = filepath.Dir(abs)
	}
	return filepath.Join(dir, filepath.Base(abs)+".json")
}

// writeJSON writes v through a temp file and rename so readers never see a
// partial result.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), ".json")+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write result: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Handle adapts Process to async.Handler.
func (p *Processor) Handle(ctx context.Context, job async.Job) error {
	_, err := p.Process(ctx, job.Path)
	return err
}

// Feed enqueues every path received on events until events closes or ctx is
// done, and returns how many were queued.
func Feed(ctx context.Context, events <-chan string, q async.Queue, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case path, ok := <-events:
			if !ok {
				return n
			}
			if err := q.Enqueue(ctx, async.Job{Path: path, SubmittedAt: time.Now()}); err != nil {
				logger.Warn("ingest.enqueue.failed", "path", path, "error", err)
				continue
			}
			n++
		}
	}
}
