package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/document"
)

// loaddoc converts one file to the plain text the extraction pipeline sees.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "loaddoc <file>")
		os.Exit(2)
	}
	path := os.Args[1]
	contentType := constants.ContentTypeForExt(filepath.Ext(path))
	if contentType == "" {
		logger.Error("unsupported file extension", "path", path)
		os.Exit(2)
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	loader := document.NewLoader(document.Config{
		Pdftotext: cfg.Document.Pdftotext,
		MaxPages:  cfg.Document.MaxPages,
		MaxBytes:  cfg.Document.MaxBytes,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := loader.Load(ctx, contentType, payload)
	if err != nil {
		logger.Error("load failed", "path", path, "code", common.CodeOf(err), "error", err)
		os.Exit(1)
	}

	logger.Info("load OK",
		"content_type", res.ContentType,
		"pages", res.Pages,
		"bytes", len(res.Text),
		"duration_ms", res.Duration.Milliseconds(),
	)
	fmt.Println(res.Text)
}
