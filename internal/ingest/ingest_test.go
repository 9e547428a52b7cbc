package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/extraction"
)

type fakePipeline struct {
	mu   sync.Mutex
	reqs []extraction.Request
	err  error
}

func (f *fakePipeline) Extract(_ context.Context, req extraction.Request) (*extraction.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	id := req.ExtractorID
	return &extraction.Result{
		Records:     []map[string]any{{"text": string(req.Document.Data)}},
		Attempts:    1,
		Chunks:      1,
		ExtractorID: &id,
	}, nil
}

func (f *fakePipeline) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanDirectory(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"a.txt", "b.PDF", "c.png", ".hidden.txt", "sub/d.md", ".git/x.txt", "e.txt.json"} {
		writeFile(t, filepath.Join(root, p), "x")
	}

	paths, err := ScanDirectory(root, nil, true)
	require.NoError(t, err)
	for i := range paths {
		paths[i], _ = filepath.Rel(root, paths[i])
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"a.txt", "b.PDF", filepath.Join("sub", "d.md")}, paths)

	_, err = ScanDirectory(" ", nil, true)
	assert.Error(t, err)
}

func TestProcessorWritesResultAndSkipsUnchanged(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bio.txt")
	out := t.TempDir()
	writeFile(t, src, "Chester is 42")

	fp := &fakePipeline{}
	id := uuid.New()
	p := NewProcessor(fp, id, out, nil)

	res, err := p.Process(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "bio.txt.json"), res.OutputPath)
	assert.Equal(t, 1, res.Records)
	assert.Len(t, res.HashHex, 64)

	b, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	var written map[string]any
	require.NoError(t, json.Unmarshal(b, &written))
	assert.Equal(t, []any{map[string]any{"text": "Chester is 42"}}, written["data"])
	assert.Equal(t, id.String(), written["extractor_id"])

	require.Len(t, fp.reqs, 1)
	assert.Equal(t, "text/plain", fp.reqs[0].Document.ContentType)
	assert.Equal(t, "bio.txt", fp.reqs[0].Document.Filename)

	res, err = p.Process(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Equal(t, 1, fp.count())

	writeFile(t, src, "Chester is 43")
	res, err = p.Process(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, 2, fp.count())
}

func TestProcessorFailureWritesNothing(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bio.txt")
	writeFile(t, src, "x")
	p := NewProcessor(&fakePipeline{err: errors.New("boom")}, uuid.New(), "", nil)

	res, err := p.Process(context.Background(), src)
	require.Error(t, err)
	_, statErr := os.Stat(res.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWatcherEmitsInitialAndNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.txt"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for watcher event")
			return ""
		}
	}
	assert.Equal(t, filepath.Join(root, "existing.txt"), next())

	writeFile(t, filepath.Join(root, "ignored.png"), "x")
	writeFile(t, filepath.Join(root, "new.md"), "# hi")
	assert.Equal(t, filepath.Join(root, "new.md"), next())

	cancel()
	for range events {
	}
}

func TestWatchFolderEndToEnd(t *testing.T) {
	root, out := t.TempDir(), t.TempDir()
	fp := &fakePipeline{}
	proc := NewProcessor(fp, uuid.New(), out, nil)
	q := async.NewWorkerPool(proc.Handle, nil, async.WithWorkers(2))

	ctx, cancel := context.WithCancel(context.Background())
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, Debounce: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	fed := make(chan int, 1)
	go func() { fed <- Feed(ctx, events, q, nil) }()

	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(out, "a.txt.json"))
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.GreaterOrEqual(t, <-fed, 1)
	q.Shutdown(context.Background())
}
