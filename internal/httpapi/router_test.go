package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/document"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/extraction"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

const personSchema = `{"type":"object","properties":{"name":{"type":"string"},"age":{"type":"integer"}},"required":["name","age"]}`

func init() { gin.SetMode(gin.TestMode) }

func newRouter(t *testing.T, replies ...llm.Reply) (*gin.Engine, *llm.Mock) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{DSN: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	extractors := repository.NewExtractorRepository(db, nil)
	examples := repository.NewExampleRepository(db, nil)
	runs := repository.NewRunRepository(db, nil)
	mock := llm.NewMock(replies...)
	m := metrics.NewCollector()
	svc := extraction.NewService(extraction.Config{}, extractors, examples,
		document.NewLoader(document.Config{}, nil),
		llm.NewInvoker(mock, llm.Options{Model: "test-model", Timeout: time.Second}, nil),
		nil,
		extraction.WithRunRecorder(runs),
		extraction.WithMetrics(m),
	)
	r := NewRouter(Deps{
		Pipeline:   svc,
		Extractors: extractors,
		Examples:   examples,
		Runs:       runs,
		Exporter:   export.NewService(runs, nil),
		Metrics:    m,
		Ping:       func(ctx context.Context) error { return db.HealthCheck(ctx, time.Second, 1) },
	})
	return r, mock
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestExtractorWorkflow(t *testing.T) {
	r, mock := newRouter(t, llm.Reply{Text: `{"data":[{"name":"######","age":42}]}`})

	w := do(t, r, http.MethodPost, "/v1/extractors", `{"name":"person","schema":`+personSchema+`,"instructions":"Redact all names using ######"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeBody(t, w)["id"].(string)
	assert.Equal(t, "/v1/extractors/"+id, w.Header().Get("Location"))

	w = do(t, r, http.MethodPost, "/v1/extractors/"+id+"/examples", `{"content":"My name is Grung. I am 100.","output":[{"name":"######","age":100}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/v1/extract", `{"extractor_id":"`+id+`","text":"My name is Chester. I am 42 years old."}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody(t, w)
	assert.Equal(t, []any{map[string]any{"name": "######", "age": float64(42)}}, res["data"])
	runID := res["run_id"].(string)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0][0].Content, "Instructions:\nRedact all names using ######")
	assert.Equal(t, `{"data":[{"age":100,"name":"######"}]}`, calls[0][2].Content)

	w = do(t, r, http.MethodGet, "/v1/runs/"+runID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUCCEEDED", decodeBody(t, w)["status"])

	w = do(t, r, http.MethodGet, "/v1/runs/"+runID+"/export.xlsx", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Equal(t, "PK", w.Body.String()[:2])

	w = do(t, r, http.MethodGet, "/v1/extractors/"+id+"/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["runs"], 1)

	w = do(t, r, http.MethodPut, "/v1/extractors/"+id, `{"name":"person v2","schema":`+personSchema+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "person v2", decodeBody(t, w)["name"])

	w = do(t, r, http.MethodDelete, "/v1/extractors/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodGet, "/v1/extractors/"+id+"/examples", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtractMultipartUpload(t *testing.T) {
	r, _ := newRouter(t, llm.Reply{Text: `{"data":[{"name":"Chester","age":42}]}`})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("schema", personSchema))
	fw, err := mw.CreateFormFile("file", "bio.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("My name is Chester. I am 42 years old."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody(t, w)
	assert.Len(t, res["data"], 1)
	assert.Nil(t, res["extractor_id"])
}

func TestErrorResponses(t *testing.T) {
	r, _ := newRouter(t,
		llm.Reply{Text: `{"data":[{"name":"x"}]}`},
		llm.Reply{Text: `{"data":[{"name":"x"}]}`},
		llm.Reply{Text: `{"data":[{"name":"x"}]}`},
	)

	cases := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"bad json", http.MethodPost, "/v1/extractors", `{`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad id", http.MethodGet, "/v1/extractors/xyz", "", http.StatusBadRequest, "INVALID_INPUT"},
		{"missing", http.MethodGet, "/v1/extractors/6f1d1c8e-59a4-4ad2-9d53-6f1b1f6a1a11", "", http.StatusNotFound, "NOT_FOUND"},
		{"invalid schema", http.MethodPost, "/v1/extractors", `{"name":"x","schema":{"type":12}}`, http.StatusUnprocessableEntity, "SCHEMA_INVALID"},
		{"empty document", http.MethodPost, "/v1/extract", `{"schema":` + personSchema + `,"text":"   "}`, http.StatusUnprocessableEntity, "EMPTY_DOCUMENT"},
		{"unrecoverable", http.MethodPost, "/v1/extract", `{"schema":` + personSchema + `,"text":"x"}`, http.StatusBadGateway, "UNRECOVERABLE_OUTPUT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			errBody := decodeBody(t, w)["error"].(map[string]any)
			assert.Equal(t, tc.code, errBody["code"])
		})
	}
}

func TestSuggestValidateHealthAndMetrics(t *testing.T) {
	r, _ := newRouter(t, llm.Reply{Text: personSchema})

	w := do(t, r, http.MethodPost, "/v1/suggest", `{"description":"people with names and ages"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decodeBody(t, w)["attempts"])

	w = do(t, r, http.MethodPost, "/v1/schema/validate", `{"schema":`+personSchema+`,"instance":{"name":"Chester","age":"old"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	rep := decodeBody(t, w)
	assert.Equal(t, false, rep["valid"])
	assert.Len(t, rep["violations"], 1)

	w = do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
	assert.Contains(t, w.Body.String(), `path="/v1/suggest"`)
}

func TestHealthReportsPingFailure(t *testing.T) {
	r := NewRouter(Deps{Ping: func(context.Context) error { return errors.New("db down") }})
	w := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
