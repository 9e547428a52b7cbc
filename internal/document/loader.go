// Package document turns uploaded payloads into plain text for extraction.
package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
)

// PageMarker separates consecutive pages in converted multi-page documents.
const PageMarker = "\n\f\n"

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	MaxPages  int    // 0 = no limit
	MaxBytes  int64  // 0 = no limit
}

// Result is the plain text produced for one payload.
type Result struct {
	Text        string
	Pages       int
	ContentType string
	Duration    time.Duration
}

type Loader struct {
	cfg       Config
	runner    Runner
	pageCount func(io.ReadSeeker) (int, error)
	logger    *slog.Logger
}

type Option func(*Loader)

// WithRunner replaces the external command runner.
func WithRunner(r Runner) Option {
	return func(l *Loader) { l.runner = r }
}

// WithPageCounter replaces the PDF page counter.
func WithPageCounter(fn func(io.ReadSeeker) (int, error)) Option {
	return func(l *Loader) { l.pageCount = fn }
}

func NewLoader(cfg Config, logger *slog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	l := &Loader{cfg: cfg, runner: execRunner{logger: logger}, pageCount: pdfPageCount, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load converts payload to plain text, dispatching on contentType. An empty or
// generic content type is sniffed from the payload first.
func (l *Loader) Load(ctx context.Context, contentType string, payload []byte) (Result, error) {
	start := time.Now()
	ct := constants.NormalizeContentType(contentType)
	if ct == "" || ct == constants.ContentTypeUnknown {
		ct = constants.NormalizeContentType(mimetype.Detect(payload).String())
		l.logger.Debug("document.sniffed", "declared", contentType, "detected", ct)
	}
	if l.cfg.MaxBytes > 0 && int64(len(payload)) > l.cfg.MaxBytes {
		return Result{ContentType: ct}, fmt.Errorf("%w: payload is %d bytes, limit %d", common.ErrInvalidInput, len(payload), l.cfg.MaxBytes)
	}

	var (
		res Result
		err error
	)
	switch constants.MapContentTypeToFormat(ct) {
	case constants.FormatText:
		res = Result{Text: normalizeText(string(payload)), Pages: 1}
	case constants.FormatHTML:
		res.Text, err = htmlToText(payload)
		res.Pages = 1
	case constants.FormatPDF:
		res, err = l.pdfToText(ctx, payload)
	default:
		l.logger.Warn("document.unsupported", "content_type", ct)
		return Result{ContentType: ct}, fmt.Errorf("%w: %q", common.ErrUnsupportedContentType, ct)
	}
	res.ContentType = ct
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(res.Text) == "" {
		l.logger.Info("document.empty", "content_type", ct, "pages", res.Pages)
		return res, fmt.Errorf("%w: no extractable text in %s payload", common.ErrEmptyDocument, ct)
	}
	l.logger.Debug("document.loaded",
		"content_type", ct,
		"pages", res.Pages,
		"chars", len(res.Text),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// LoadText is Load for callers that only need the text.
func (l *Loader) LoadText(ctx context.Context, contentType string, payload []byte) (string, error) {
	res, err := l.Load(ctx, contentType, payload)
	return res.Text, err
}

func normalizeText(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
