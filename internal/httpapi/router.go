// Package httpapi serves the extraction pipeline and the extractor store as a JSON REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/extraction"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

const requestIDHeader = "X-Request-ID"

// Pipeline is the part of extraction.Service the API needs.
type Pipeline interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
	SuggestSchema(ctx context.Context, description, currentDraft string) (*extraction.Suggestion, error)
}

// Exporter renders a stored run as XLSX.
type Exporter interface {
	ExportRunXLSX(ctx context.Context, runID uuid.UUID) ([]byte, error)
}

// Deps are the collaborators behind the routes. Runs, Exporter, Metrics and
// Ping are optional; their routes degrade to 404 or a plain "ok".
type Deps struct {
	Pipeline   Pipeline
	Extractors repository.ExtractorRepository
	Examples   repository.ExampleRepository
	Runs       repository.RunRepository
	Exporter   Exporter
	Metrics    *metrics.Collector
	Ping       func(ctx context.Context) error
	MaxBytes   int64 // upload limit; 0 = 32 MiB
	Logger     *slog.Logger
}

type handler struct {
	Deps
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxBytes <= 0 {
		d.MaxBytes = 32 << 20
	}
	h := &handler{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery(), h.observe())
	r.MaxMultipartMemory = d.MaxBytes

	r.GET("/healthz", h.health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	v1 := r.Group("/v1")
	v1.POST("/extract", h.extract)
	v1.POST("/suggest", h.suggest)
	v1.POST("/schema/validate", h.validateSchema)

	ex := v1.Group("/extractors")
	ex.POST("", h.createExtractor)
	ex.GET("", h.listExtractors)
	ex.GET("/:id", h.getExtractor)
	ex.PUT("/:id", h.updateExtractor)
	ex.DELETE("/:id", h.deleteExtractor)
	ex.POST("/:id/examples", h.addExample)
	ex.GET("/:id/examples", h.listExamples)
	ex.GET("/:id/runs", h.listRuns)

	v1.DELETE("/examples/:id", h.deleteExample)
	v1.GET("/runs/:id", h.getRun)
	v1.GET("/runs/:id/export.xlsx", h.exportRun)
	return r
}

// observe tags the request with an id, then logs and counts it.
func (h *handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		h.Metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), time.Since(start))
		attrs := []any{"method", c.Request.Method, "route", route, "status", status,
			"request_id", rid, "duration_ms", time.Since(start).Milliseconds()}
		if status >= http.StatusInternalServerError {
			h.Logger.Error("http.request", attrs...)
		} else {
			h.Logger.Info("http.request", attrs...)
		}
	}
}

func (h *handler) health(c *gin.Context) {
	if h.Ping != nil {
		if err := h.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail writes err as {"error":{"code","stage","message"}} with its mapped status.
func (h *handler) fail(c *gin.Context, err error) {
	status := common.HTTPStatus(err)
	body := gin.H{"code": common.CodeOf(err), "message": err.Error()}
	if stage := common.StageOf(err); stage != "" {
		body["stage"] = stage
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("http.request.failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func (h *handler) bind(c *gin.Context, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes)).Decode(dst); err != nil {
		h.fail(c, common.NewAppError(common.CodeOf(common.ErrInvalidInput), "invalid JSON body: "+err.Error(), common.ErrInvalidInput))
		return false
	}
	return true
}

func (h *handler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.fail(c, common.NewAppError(common.CodeOf(common.ErrInvalidInput), "id must be a UUID", common.ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}
