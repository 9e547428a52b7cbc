package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/docextract/internal/common"
)

func init() {
	api.DisableConfigDir()
}

func pdfPageCount(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(rs, conf)
}

func (l *Loader) pdfToText(ctx context.Context, payload []byte) (Result, error) {
	pages, err := l.pageCount(bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read pdf: %v", common.ErrExtractionFailure, err)
	}
	if pages == 0 {
		return Result{}, nil
	}
	if l.cfg.MaxPages > 0 && pages > l.cfg.MaxPages {
		l.logger.Info("document.pdf.truncated", "pages", pages, "max_pages", l.cfg.MaxPages)
		pages = l.cfg.MaxPages
	}

	f, err := os.CreateTemp("", "docextract-*.pdf")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrExtractionFailure, err)
	}
	defer func() {
		if rerr := os.Remove(f.Name()); rerr != nil {
			l.logger.Warn("document.pdf.cleanup_failed", "path", f.Name(), "error", rerr)
		}
	}()
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("%w: %v", common.ErrExtractionFailure, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrExtractionFailure, err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix -f 1 -l <pages> <path> -
	out, errb, err := l.runner.Run(ctx, l.cfg.Pdftotext,
		"-layout", "-enc", "UTF-8", "-eol", "unix",
		"-f", "1", "-l", strconv.Itoa(pages),
		f.Name(), "-")
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: pdftotext: %v: %s", common.ErrExtractionFailure, err, truncate(string(errb), 512))
	}

	texts := splitPages(string(out), pages)
	return Result{Text: strings.Join(texts, PageMarker), Pages: len(texts)}, nil
}

// splitPages splits pdftotext output on the form feed it emits after every page.
func splitPages(out string, want int) []string {
	parts := strings.Split(out, "\f")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	if want > 0 && len(parts) > want {
		parts = parts[:want]
	}
	for i, p := range parts {
		parts[i] = strings.TrimRight(p, " \n")
	}
	return parts
}
