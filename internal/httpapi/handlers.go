package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/extraction"
	"github.com/joseph-ayodele/docextract/internal/schema"
)

func (h *handler) extract(c *gin.Context) {
	var in extraction.ExtractInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := h.readMultipart(c, &in); err != nil {
			h.fail(c, err)
			return
		}
	} else if !h.bind(c, &in) {
		return
	}

	req, err := in.Request()
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.Pipeline.Extract(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// readMultipart fills in from form fields and the "file" part.
func (h *handler) readMultipart(c *gin.Context, in *extraction.ExtractInput) error {
	invalid := func(format string, args ...any) error {
		return common.NewAppError(common.CodeOf(common.ErrInvalidInput), fmt.Sprintf(format, args...), common.ErrInvalidInput)
	}
	in.ExtractorID = c.PostForm("extractor_id")
	if s := strings.TrimSpace(c.PostForm("schema")); s != "" {
		in.Schema = json.RawMessage(s)
	}
	in.Instructions = c.PostForm("instructions")
	in.Model = c.PostForm("model")
	in.Text = c.PostForm("text")
	for name, dst := range map[string]*int{"chunk_size": &in.ChunkSize, "chunk_overlap": &in.ChunkOverlap} {
		if v := c.PostForm(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return invalid("%s must be an integer", name)
			}
			*dst = n
		}
	}

	fh, err := c.FormFile("file")
	if err != nil {
		if in.Text != "" {
			return nil
		}
		return invalid("multipart request needs a file part or a text field")
	}
	if fh.Size > h.MaxBytes {
		return invalid("file is %d bytes, limit %d", fh.Size, h.MaxBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return invalid("open upload: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.MaxBytes+1))
	if err != nil {
		return invalid("read upload: %v", err)
	}
	in.Data = data
	in.Filename = fh.Filename
	in.ContentType = c.PostForm("content_type")
	if in.ContentType == "" {
		in.ContentType = fh.Header.Get("Content-Type")
	}
	return nil
}

func (h *handler) suggest(c *gin.Context) {
	var in extraction.SuggestInput
	if !h.bind(c, &in) {
		return
	}
	sug, err := h.Pipeline.SuggestSchema(c.Request.Context(), in.Description, in.Draft())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sug)
}

func (h *handler) validateSchema(c *gin.Context) {
	var in struct {
		Schema   json.RawMessage `json:"schema"`
		Instance json.RawMessage `json:"instance"`
	}
	if !h.bind(c, &in) {
		return
	}
	c.JSON(http.StatusOK, schema.Check(in.Schema, in.Instance))
}

func (h *handler) createExtractor(c *gin.Context) {
	var in entity.ExtractorInput
	if !h.bind(c, &in) {
		return
	}
	e, err := h.Extractors.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/v1/extractors/"+e.ID.String())
	c.JSON(http.StatusCreated, e)
}

func (h *handler) listExtractors(c *gin.Context) {
	list, err := h.Extractors.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []entity.Extractor{}
	}
	c.JSON(http.StatusOK, gin.H{"extractors": list})
}

func (h *handler) getExtractor(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	e, err := h.Extractors.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) updateExtractor(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var in entity.ExtractorInput
	if !h.bind(c, &in) {
		return
	}
	e, err := h.Extractors.Update(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) deleteExtractor(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.Extractors.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) addExample(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var in extraction.ExampleInput
	if !h.bind(c, &in) {
		return
	}
	ex, err := h.Examples.Create(c.Request.Context(), id, in.Content, in.Output)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ex)
}

func (h *handler) listExamples(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if _, err := h.Extractors.Get(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	list, err := h.Examples.ListByExtractor(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []entity.Example{}
	}
	c.JSON(http.StatusOK, gin.H{"examples": list})
}

func (h *handler) deleteExample(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.Examples.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listRuns(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if h.Runs == nil {
		h.fail(c, fmt.Errorf("run history is disabled: %w", common.ErrNotFound))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		h.fail(c, fmt.Errorf("limit must be an integer: %w", common.ErrInvalidInput))
		return
	}
	list, err := h.Runs.ListByExtractor(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []entity.ExtractionRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": list})
}

func (h *handler) getRun(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if h.Runs == nil {
		h.fail(c, fmt.Errorf("run history is disabled: %w", common.ErrNotFound))
		return
	}
	run, err := h.Runs.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *handler) exportRun(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if h.Exporter == nil {
		h.fail(c, fmt.Errorf("export is disabled: %w", common.ErrNotFound))
		return
	}
	xlsx, err := h.Exporter.ExportRunXLSX(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.xlsx"`, id))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", xlsx)
}
