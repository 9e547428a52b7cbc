package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/document"
	"github.com/joseph-ayodele/docextract/internal/extraction"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

const personSchema = `{"type":"object","properties":{"name":{"type":"string"},"age":{"type":"integer"}},"required":["name"]}`

type harness struct {
	client *Client
	conn   *grpc.ClientConn
	mock   *llm.Mock
}

func newHarness(t *testing.T, replies ...llm.Reply) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{DSN: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	extractors := repository.NewExtractorRepository(db, nil)
	examples := repository.NewExampleRepository(db, nil)
	mock := llm.NewMock(replies...)
	svc := extraction.NewService(extraction.Config{}, extractors, examples,
		document.NewLoader(document.Config{}, nil),
		llm.NewInvoker(mock, llm.Options{Model: "test-model", Timeout: time.Second}, nil),
		nil,
		extraction.WithRunRecorder(repository.NewRunRepository(db, nil)),
	)

	lis := bufconn.Listen(1 << 20)
	srv, _ := New(NewExtractionServer(svc, extractors, examples, nil), nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{client: NewClient(conn), conn: conn, mock: mock}
}

func TestExtractorLifecycleOverGRPC(t *testing.T) {
	h := newHarness(t, llm.Reply{Text: `{"data":[{"name":"Chester","age":42}]}`})
	ctx := context.Background()

	created, err := h.client.Call(ctx, "CreateExtractor", map[string]any{
		"name":   "person",
		"schema": map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}}},
	})
	require.NoError(t, err)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	_, err = h.client.Call(ctx, "AddExample", map[string]any{
		"extractor_id": id,
		"content":      "Ada is 36",
		"output":       []any{map[string]any{"name": "Ada"}},
	})
	require.NoError(t, err)

	exs, err := h.client.Call(ctx, "ListExamples", map[string]any{"extractor_id": id})
	require.NoError(t, err)
	assert.Len(t, exs["examples"], 1)

	res, err := h.client.Call(ctx, "Extract", map[string]any{"extractor_id": id, "text": "Chester is 42 years old"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "Chester", "age": float64(42)}}, res["data"])
	assert.Equal(t, float64(1), res["attempts"])
	assert.NotEmpty(t, res["run_id"])

	list, err := h.client.Call(ctx, "ListExtractors", nil)
	require.NoError(t, err)
	assert.Len(t, list["extractors"], 1)

	_, err = h.client.Call(ctx, "DeleteExtractor", map[string]any{"id": id})
	require.NoError(t, err)
	_, err = h.client.Call(ctx, "GetExtractor", map[string]any{"id": id})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	h := newHarness(t, llm.Reply{Text: "not json"}, llm.Reply{Text: "still not"}, llm.Reply{Text: "nope"})
	ctx := context.Background()

	_, err := h.client.Call(ctx, "GetExtractor", map[string]any{"id": "nope"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, "CreateExtractor", map[string]any{"name": "x", "schema": []any{1.0}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, "Extract", map[string]any{"schema": map[string]any{"type": "object"}, "text": "  "})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, "Extract", map[string]any{"schema": map[string]any{"type": "object"}, "text": "hello"})
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Len(t, h.mock.Calls(), 3)
}

func TestExtractKeepsLargeIntegersInRecordsJSON(t *testing.T) {
	h := newHarness(t, llm.Reply{Text: `{"data":[{"id":9007199254740993}]}`})

	res, err := h.client.Call(context.Background(), "Extract", map[string]any{
		"schema": map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "integer"}}},
		"text":   "order 9007199254740993",
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":9007199254740993}]`, res["records_json"])
	// the Struct form rounds to the nearest double
	assert.Equal(t, []any{map[string]any{"id": float64(9007199254740992)}}, res["data"])
}

func TestSuggestAndValidateSchema(t *testing.T) {
	h := newHarness(t, llm.Reply{Text: personSchema})
	ctx := context.Background()

	sug, err := h.client.Call(ctx, "SuggestSchema", map[string]any{"description": "people with names and ages"})
	require.NoError(t, err)
	assert.Equal(t, "object", sug["schema"].(map[string]any)["type"])

	rep, err := h.client.Call(ctx, "ValidateSchema", map[string]any{
		"schema":   map[string]any{"type": "object", "required": []any{"name"}},
		"instance": map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, false, rep["valid"])
	assert.NotEmpty(t, rep["violations"])

	rep, err = h.client.Call(ctx, "ValidateSchema", map[string]any{"schema": "not an object"})
	require.NoError(t, err)
	assert.Equal(t, false, rep["valid"])
	assert.Contains(t, rep["error"], "JSON object")
}

func TestHealthServing(t *testing.T) {
	h := newHarness(t)
	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
