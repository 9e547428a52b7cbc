package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/document"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
)

const personSchema = `{"title":"Person","type":"object","properties":{"name":{"type":"string"},"age":{"type":"integer"}},"required":["name","age"]}`

type memStore struct {
	mu         sync.Mutex
	extractors map[uuid.UUID]*entity.Extractor
	examples   map[uuid.UUID][]entity.Example
	runs       []*entity.ExtractionRun
	gets       int
}

func newMemStore() *memStore {
	return &memStore{extractors: map[uuid.UUID]*entity.Extractor{}, examples: map[uuid.UUID][]entity.Example{}}
}

func (m *memStore) add(instructions string) *entity.Extractor {
	e := &entity.Extractor{
		ID:           uuid.New(),
		Name:         "person",
		Schema:       json.RawMessage(personSchema),
		Instructions: instructions,
		UpdatedAt:    time.Unix(1700000000, 0),
	}
	m.extractors[e.ID] = e
	return e
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*entity.Extractor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	e, ok := m.extractors[id]
	if !ok {
		return nil, fmt.Errorf("extractor %s: %w", id, common.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListByExtractor(_ context.Context, id uuid.UUID) ([]entity.Example, error) {
	return m.examples[id], nil
}

func (m *memStore) Start(_ context.Context, extractorID *uuid.UUID, model string) (*entity.ExtractionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &entity.ExtractionRun{ID: uuid.New(), ExtractorID: extractorID, Status: string(constants.RunStatusRunning)}
	if model != "" {
		run.ModelName = &model
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memStore) Finish(context.Context, *entity.ExtractionRun) error { return nil }

type stubRunner struct{ out string }

func (s stubRunner) Run(context.Context, string, ...string) ([]byte, []byte, error) {
	return []byte(s.out), nil, nil
}

func newService(t *testing.T, store *memStore, mock *llm.Mock, cfg Config, opts ...Option) *Service {
	t.Helper()
	loader := document.NewLoader(document.Config{}, nil,
		document.WithRunner(stubRunner{out: "\f\f\f"}),
		document.WithPageCounter(func(io.ReadSeeker) (int, error) { return 3, nil }),
	)
	inv := llm.NewInvoker(mock, llm.Options{Model: "test-model", Timeout: time.Second}, nil)
	return NewService(cfg, store, store, loader, inv, nil, opts...)
}

func text(s string) Document { return Document{Text: s} }

func recordsJSON(t *testing.T, res *Result) string {
	t.Helper()
	b, err := json.Marshal(res.Records)
	require.NoError(t, err)
	return string(b)
}

func TestExtractPerson(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	mock := llm.NewMock(llm.Reply{Text: `{"data": [{"name": "Chester", "age": 42}]}`})
	svc := newService(t, store, mock, Config{})

	res, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("My name is Chester. I am 42 years old.")})
	require.NoError(t, err)
	assert.Equal(t, `[{"age":42,"name":"Chester"}]`, recordsJSON(t, res))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, ext.ID, *res.ExtractorID)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.NotContains(t, calls[0][0].Content, "Instructions:")
	assert.Equal(t, "My name is Chester. I am 42 years old.", calls[0][1].Content)
}

func TestExtractWithInstructions(t *testing.T) {
	store := newMemStore()
	ext := store.add("Redact all names using ######")
	mock := llm.NewMock(llm.Reply{Text: `{"data":[{"name":"######","age":42}]}`})
	svc := newService(t, store, mock, Config{})

	res, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("My name is Chester. I am 42 years old.")})
	require.NoError(t, err)
	assert.Equal(t, `[{"age":42,"name":"######"}]`, recordsJSON(t, res))
	assert.Contains(t, mock.Calls()[0][0].Content, "Instructions:\nRedact all names using ######")
}

func TestExtractWithExamples(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	store.examples[ext.ID] = []entity.Example{{
		ID:          uuid.New(),
		ExtractorID: ext.ID,
		Content:     "My name is Grung. I am 100.",
		Output:      json.RawMessage(`[{"age": 100, "name": "######"}]`),
	}}
	mock := llm.NewEchoMock(`{"data":[{"name":"######","age":42}]}`)
	svc := newService(t, store, mock, Config{})

	for i := 0; i < 2; i++ {
		res, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("My name is Chester. I am 42 years old.")})
		require.NoError(t, err)
		assert.Equal(t, `[{"age":42,"name":"######"}]`, recordsJSON(t, res))
	}

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])
	require.Len(t, calls[0], 4)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "My name is Grung. I am 100."}, calls[0][1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: `{"data":[{"age":100,"name":"######"}]}`}, calls[0][2])
}

func TestExtractEmptyPDF(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	mock := llm.NewEchoMock(`{"data":[]}`)
	svc := newService(t, store, mock, Config{})

	_, err := svc.Extract(context.Background(), Request{
		ExtractorID: ext.ID,
		Document:    Document{ContentType: "application/pdf", Data: []byte("%PDF-1.4 scanned"), Filename: "scan.pdf"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrEmptyDocument))
	assert.Equal(t, constants.StageLoad, common.StageOf(err))
	assert.Empty(t, mock.Calls())
}

func TestExtractEmptyText(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	svc := newService(t, store, llm.NewEchoMock(`{"data":[]}`), Config{})

	for _, doc := range []Document{{}, text("   \n ")} {
		_, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: doc})
		assert.True(t, errors.Is(err, common.ErrEmptyDocument))
	}
}

func TestExtractValidEmptyResult(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	svc := newService(t, store, llm.NewEchoMock(`{"data":[]}`), Config{})

	res, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("nothing to see")})
	require.NoError(t, err)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
}

func TestExtractStageErrors(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	bad := store.add("")
	bad.Schema = json.RawMessage(`{"type": 12}`)

	cases := []struct {
		name  string
		req   Request
		mock  *llm.Mock
		stage constants.Stage
		want  error
	}{
		{"missing extractor", Request{ExtractorID: uuid.New(), Document: text("x")}, llm.NewEchoMock("{}"), constants.StageResolve, common.ErrNotFound},
		{"no extractor", Request{Document: text("x")}, llm.NewEchoMock("{}"), constants.StageResolve, common.ErrInvalidInput},
		{"bad schema", Request{ExtractorID: bad.ID, Document: text("x")}, llm.NewEchoMock("{}"), constants.StageSchema, common.ErrSchemaInvalid},
		{"unsupported", Request{ExtractorID: ext.ID, Document: Document{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}, llm.NewEchoMock("{}"), constants.StageLoad, common.ErrUnsupportedContentType},
		{"unavailable", Request{ExtractorID: ext.ID, Document: text("x")}, llm.NewMock(llm.Reply{Err: errors.New("connection refused")}), constants.StageInvoke, common.ErrModelUnavailable},
		{"timeout", Request{ExtractorID: ext.ID, Document: text("x")}, llm.NewMock(llm.Reply{Delay: 5 * time.Second}), constants.StageInvoke, common.ErrModelTimeout},
		{"unrecoverable", Request{ExtractorID: ext.ID, Document: text("x")}, llm.NewEchoMock(`{"data":[{"name":"x"}]}`), constants.StageReconcile, common.ErrUnrecoverableOutput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(t, store, tc.mock, Config{MaxRepairAttempts: 2})
			_, err := svc.Extract(context.Background(), tc.req)
			require.Error(t, err)
			var ae *common.AppError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, tc.stage, ae.Stage)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestExtractRepairsOnce(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	mock := llm.NewMock(
		llm.Reply{Text: `{"data":[{"name":"Chester","age":"forty-two"}]}`},
		llm.Reply{Text: "```json\n{\"data\":[{\"name\":\"Chester\",\"age\":42}]}\n```"},
	)
	svc := newService(t, store, mock, Config{MaxRepairAttempts: 2})

	res, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("My name is Chester. I am 42 years old.")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	repair := calls[1]
	require.Len(t, repair, 4)
	assert.Equal(t, llm.RoleAssistant, repair[2].Role)
	assert.Contains(t, repair[3].Content, "/age")
}

func TestExtractAdHocSpec(t *testing.T) {
	mock := llm.NewMock(llm.Reply{Text: `{"data":[{"name":"Chester","age":42}]}`})
	svc := newService(t, newMemStore(), mock, Config{})

	res, err := svc.Extract(context.Background(), Request{
		Spec:     &Spec{Schema: json.RawMessage(personSchema)},
		Document: text("My name is Chester. I am 42 years old."),
	})
	require.NoError(t, err)
	assert.Nil(t, res.ExtractorID)
	assert.Len(t, res.Records, 1)
}

func TestExtractChunksPreserveOrder(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	// Each chunk echoes its own first word back as a name, so record order
	// shows whether chunk order was kept under concurrency.
	echo := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message, _ llm.Options) (string, error) {
		words := strings.Fields(msgs[len(msgs)-1].Content)
		if words[0] == "w0" {
			time.Sleep(20 * time.Millisecond)
		}
		return `{"data":[{"name":"` + words[0] + `","age":1}]}`, nil
	})
	loader := document.NewLoader(document.Config{}, nil)
	svc := NewService(Config{MaxConcurrency: 4}, store, store, loader, llm.NewInvoker(echo, llm.Options{}, nil), nil)

	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("w")
		b.WriteString(string(rune('0' + i)))
		b.WriteString(" ")
	}
	res, err := svc.Extract(context.Background(), Request{
		ExtractorID: ext.ID,
		Document:    text(b.String()),
		Chunking:    &Chunking{Size: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, 4, res.Attempts)
	var names []string
	for _, r := range res.Records {
		names = append(names, r["name"].(string))
	}
	assert.Equal(t, []string{"w0", "w3", "w6", "w9"}, names)
}

func TestExtractOverlapDropsRepeatedRecords(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	// Each chunk yields one record per "name age" pair it contains.
	pairs := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message, _ llm.Options) (string, error) {
		words := strings.Fields(msgs[len(msgs)-1].Content)
		var recs []string
		for i := 0; i+1 < len(words); i += 2 {
			recs = append(recs, `{"name":"`+words[i]+`","age":`+words[i+1]+`}`)
		}
		return `{"data":[` + strings.Join(recs, ",") + `]}`, nil
	})
	loader := document.NewLoader(document.Config{}, nil)
	svc := NewService(Config{}, store, store, loader, llm.NewInvoker(pairs, llm.Options{}, nil), nil)

	doc := text("Alice 30 Bob 40 Carol 50")
	res, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: doc, Chunking: &Chunking{Size: 4, Overlap: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, `[{"age":30,"name":"Alice"},{"age":40,"name":"Bob"},{"age":50,"name":"Carol"}]`, recordsJSON(t, res))

	res, err = svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: doc, Chunking: &Chunking{Size: 2}})
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
}

func TestExtractRequestTimeoutBoundsRepairLoop(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	missingAge := llm.Reply{Text: `{"data":[{"name":"x"}]}`, Delay: 200 * time.Millisecond}
	mock := llm.NewMock(missingAge, missingAge, missingAge)
	svc := newService(t, store, mock, Config{RequestTimeout: 300 * time.Millisecond}, WithRunRecorder(store))

	started := time.Now()
	_, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("x")})
	elapsed := time.Since(started)

	require.Error(t, err)
	var ae *common.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, constants.StageReconcile, ae.Stage)
	assert.True(t, errors.Is(err, common.ErrModelTimeout), "got %v", err)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 800*time.Millisecond)

	calls := len(mock.Calls())
	assert.Less(t, calls, 1+constants.MaxRepairAttempts)

	require.Len(t, store.runs, 1)
	assert.Equal(t, string(constants.RunStatusFailed), store.runs[0].Status)
	assert.Equal(t, calls, store.runs[0].Attempts)
}

func TestFailedRunCountsModelCalls(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	svc := newService(t, store, llm.NewEchoMock(`{"data":[{"name":"x"}]}`), Config{MaxRepairAttempts: 1}, WithRunRecorder(store))

	_, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUnrecoverableOutput))
	n, ok := reconcile.RepairsOf(err)
	require.True(t, ok)
	assert.Equal(t, 1, n)

	require.Len(t, store.runs, 1)
	assert.Equal(t, 2, store.runs[0].Attempts)
}

func TestExtractCancellation(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	mock := llm.NewMock(llm.Reply{Delay: 5 * time.Second})
	svc := newService(t, store, mock, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	started := time.Now()
	_, err := svc.Extract(ctx, Request{ExtractorID: ext.ID, Document: text("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "CANCELED", common.CodeOf(err))
	assert.Less(t, time.Since(started), time.Second)
}

func TestExtractCachesCompiledSchema(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	svc := newService(t, store, llm.NewEchoMock(`{"data":[]}`), Config{})

	_, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("x")})
	require.NoError(t, err)
	v, ok := svc.schemas.Load(ext.ID)
	require.True(t, ok)
	first := v.(cachedSchema).compiled

	_, err = svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("x")})
	require.NoError(t, err)
	v, _ = svc.schemas.Load(ext.ID)
	assert.Same(t, first, v.(cachedSchema).compiled)

	store.extractors[ext.ID].UpdatedAt = ext.UpdatedAt.Add(time.Second)
	_, err = svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("x")})
	require.NoError(t, err)
	v, _ = svc.schemas.Load(ext.ID)
	assert.NotSame(t, first, v.(cachedSchema).compiled)
}

func TestExtractRecordsRunsAndMetrics(t *testing.T) {
	store := newMemStore()
	ext := store.add("")
	m := metrics.NewCollector()
	svc := newService(t, store, llm.NewEchoMock(`{"data":[{"name":"a","age":1}]}`), Config{}, WithRunRecorder(store), WithMetrics(m))

	res, err := svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text("x"), ModelName: "m1"})
	require.NoError(t, err)
	require.NotNil(t, res.RunID)
	require.Len(t, store.runs, 1)

	run := store.runs[0]
	assert.Equal(t, *res.RunID, run.ID)
	assert.Equal(t, string(constants.RunStatusSucceeded), run.Status)
	assert.Equal(t, 1, run.Attempts)
	assert.JSONEq(t, `{"data":[{"name":"a","age":1}]}`, string(run.Records))
	assert.NotNil(t, run.FinishedAt)

	_, err = svc.Extract(context.Background(), Request{ExtractorID: ext.ID, Document: text(" ")})
	require.Error(t, err)
	require.Len(t, store.runs, 2)
	assert.Equal(t, string(constants.RunStatusFailed), store.runs[1].Status)
	assert.Equal(t, "load", *store.runs[1].Stage)
}

func TestSuggestSchema(t *testing.T) {
	mock := llm.NewMock(
		llm.Reply{Text: `Sure! {"type":"object","properties":{"name":{"type":"string"},"age":{"type":"integer"}},"required":["name"]}`},
	)
	svc := newService(t, newMemStore(), mock, Config{})

	sug, err := svc.SuggestSchema(context.Background(), "Extract people with name and age", "{}")
	require.NoError(t, err)
	assert.Equal(t, 1, sug.Attempts)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(sug.Schema, &doc))
	props := doc["properties"].(map[string]any)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "age")
}

func TestSuggestSchemaRepairsInvalidSchema(t *testing.T) {
	mock := llm.NewMock(
		llm.Reply{Text: `{"type":"object","properties":{"name":{"type":"text"}}}`},
		llm.Reply{Text: `{"type":"object","properties":{"name":{"type":"string"}}}`},
	)
	svc := newService(t, newMemStore(), mock, Config{MaxRepairAttempts: 1})

	sug, err := svc.SuggestSchema(context.Background(), "people", `{"type":"object"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, sug.Attempts)
	assert.Contains(t, mock.Calls()[0][1].Content, `{"type":"object"}`)

	_, err = svc.SuggestSchema(context.Background(), "", "")
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestExtractInputRequest(t *testing.T) {
	id := uuid.New()

	req, err := ExtractInput{ExtractorID: id.String(), Text: "hi", ChunkSize: 10, ChunkOverlap: 2}.Request()
	require.NoError(t, err)
	assert.Equal(t, id, req.ExtractorID)
	assert.Nil(t, req.Spec)
	require.NotNil(t, req.Chunking)
	assert.Equal(t, Chunking{Size: 10, Overlap: 2}, *req.Chunking)

	req, err = ExtractInput{
		Schema:   json.RawMessage(`{"type":"object"}`),
		Examples: []ExampleInput{{Content: "a"}},
		Text:     "hi",
	}.Request()
	require.NoError(t, err)
	require.NotNil(t, req.Spec)
	assert.JSONEq(t, `[]`, string(req.Spec.Examples[0].Output))
	assert.Nil(t, req.Chunking)

	for _, in := range []ExtractInput{
		{},
		{ExtractorID: "not-a-uuid"},
		{ExtractorID: id.String(), Schema: json.RawMessage(`{}`)},
		{Schema: json.RawMessage(`{}`), Examples: []ExampleInput{{Content: "a", Output: json.RawMessage(`{"a":1}`)}}},
	} {
		_, err := in.Request()
		assert.ErrorIs(t, err, common.ErrInvalidInput)
	}

	assert.Equal(t, "", SuggestInput{CurrentDraft: json.RawMessage("null")}.Draft())
	assert.Equal(t, `{"type":"object"}`, SuggestInput{CurrentDraft: json.RawMessage(` {"type":"object"} `)}.Draft())
}
