// Package export writes extraction records to XLSX workbooks.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const sheet = "Records"

// RunReader loads stored extraction runs.
type RunReader interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ExtractionRun, error)
}

// Service turns stored runs into XLSX bytes.
type Service struct {
	runs   RunReader
	logger *slog.Logger
}

func NewService(runs RunReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, logger: logger}
}

// ExportRunXLSX returns a workbook with one row per record of a succeeded run.
func (s *Service) ExportRunXLSX(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	start := time.Now()
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != string(constants.RunStatusSucceeded) {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, common.ErrInvalidInput)
	}
	xlsx, rows, err := RecordsXLSX(run.Records)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"run_id", runID.String(),
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return xlsx, nil
}

// RecordsXLSX renders records, given as a {"data":[...]} envelope or a bare
// array, as a single-sheet workbook. The header row is the union of record
// keys in first-seen order; nested values are written as compact JSON.
func RecordsXLSX(records []byte) ([]byte, int, error) {
	rows, columns, err := decodeRecords(records)
	if err != nil {
		return nil, 0, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, 0, err
	}

	for i, h := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, rec := range rows {
		for c, key := range columns {
			raw, ok := rec[key]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, cellValue(raw)); err != nil {
				return nil, 0, fmt.Errorf("xlsx cell %s: %w", cell, err)
			}
		}
	}
	if len(columns) > 0 {
		last, _ := excelize.ColumnNumberToName(len(columns))
		_ = f.SetColWidth(sheet, "A", last, 20)
		_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), len(rows), nil
}

// decodeRecords keeps each record's keys in document order, which a
// map[string]any would lose.
func decodeRecords(raw []byte) ([]map[string]json.RawMessage, []string, error) {
	raw = bytes.TrimSpace(raw)
	var items []json.RawMessage
	if len(raw) > 0 && raw[0] == '{' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, nil, fmt.Errorf("%w: records: %v", common.ErrInvalidInput, err)
		}
		raw = env[constants.EnvelopeKey]
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, fmt.Errorf("%w: records must be an array: %v", common.ErrInvalidInput, err)
		}
	}

	var (
		rows    = make([]map[string]json.RawMessage, 0, len(items))
		columns []string
		seen    = map[string]bool{}
	)
	for i, item := range items {
		rec, keys, err := orderedObject(item)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: record %d: %v", common.ErrInvalidInput, i, err)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
		rows = append(rows, rec)
	}
	return rows, columns, nil
}

func orderedObject(raw json.RawMessage) (map[string]json.RawMessage, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("not an object")
	}
	out := map[string]json.RawMessage{}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := out[key]; !dup {
			keys = append(keys, key)
		}
		out[key] = v
	}
	return out, keys, nil
}

func cellValue(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case 't', 'f':
		return raw[0] == 't'
	case 'n':
		return nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.String()
		}
	default:
		s := string(raw)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return string(raw)
}
