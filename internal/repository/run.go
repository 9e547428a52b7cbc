package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	entschema "github.com/joseph-ayodele/docextract/db/ent/schema"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const runTable = "extraction_run"

var runColumns = []string{
	"id", "extractor_id", "status", "stage", "error_message", "attempts",
	"records", "model_name", "started_at", "finished_at",
}

type RunRepository interface {
	Start(ctx context.Context, extractorID *uuid.UUID, modelName string) (*entity.ExtractionRun, error)
	Finish(ctx context.Context, run *entity.ExtractionRun) error
	Get(ctx context.Context, id uuid.UUID) (*entity.ExtractionRun, error)
	ListByExtractor(ctx context.Context, extractorID uuid.UUID, limit int) ([]entity.ExtractionRun, error)
}

type runRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewRunRepository(db *DB, logger *slog.Logger) RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &runRepo{drv: db.Driver, logger: logger}
}

func (r *runRepo) Start(ctx context.Context, extractorID *uuid.UUID, modelName string) (*entity.ExtractionRun, error) {
	run := &entity.ExtractionRun{
		ID:          uuid.New(),
		ExtractorID: extractorID,
		Status:      string(constants.RunStatusRunning),
		StartedAt:   time.Now().UTC(),
	}
	if modelName != "" {
		run.ModelName = &modelName
	}
	q, args := entsql.Dialect(r.drv.Dialect()).
		Insert(runTable).
		Columns("id", "extractor_id", "status", "attempts", "model_name", "started_at").
		Values(run.ID, nullUUID(extractorID), run.Status, 0, toNullString(run.ModelName), run.StartedAt).
		Query()
	if err := r.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("extraction_run start failed", "extractor_id", extractorID, "err", err)
		return nil, fmt.Errorf("%w: start run: %v", common.ErrDatabase, err)
	}
	r.logger.Debug("extraction_run started", "run_id", run.ID, "extractor_id", extractorID)
	return run, nil
}

// Finish writes the terminal state of run.
func (r *runRepo) Finish(ctx context.Context, run *entity.ExtractionRun) error {
	if err := checkString(entschema.ExtractionRun{}, "status", run.Status); err != nil {
		return err
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	var records sql.NullString
	if len(run.Records) > 0 {
		records = sql.NullString{String: string(run.Records), Valid: true}
	}
	q, args := entsql.Dialect(r.drv.Dialect()).
		Update(runTable).
		Set("status", run.Status).
		Set("stage", toNullString(run.Stage)).
		Set("error_message", toNullString(run.ErrorMessage)).
		Set("attempts", run.Attempts).
		Set("records", records).
		Set("finished_at", finished).
		Where(entsql.EQ("id", run.ID)).
		Query()
	var res sql.Result
	if err := r.drv.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("extraction_run finish failed", "run_id", run.ID, "err", err)
		return fmt.Errorf("%w: finish run: %v", common.ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, common.ErrNotFound)
	}
	if run.Status == string(constants.RunStatusFailed) {
		r.logger.Warn("extraction_run finished (FAILED)", "run_id", run.ID, "stage", deref(run.Stage))
	} else {
		r.logger.Info("extraction_run finished", "run_id", run.ID, "status", run.Status, "attempts", run.Attempts)
	}
	return nil
}

func (r *runRepo) Get(ctx context.Context, id uuid.UUID) (*entity.ExtractionRun, error) {
	q, args := entsql.Dialect(r.drv.Dialect()).
		Select(runColumns...).
		From(entsql.Table(runTable)).
		Where(entsql.EQ("id", id)).
		Query()
	list, err := r.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	return &list[0], nil
}

// ListByExtractor returns the newest runs first; limit <= 0 means all.
func (r *runRepo) ListByExtractor(ctx context.Context, extractorID uuid.UUID, limit int) ([]entity.ExtractionRun, error) {
	sel := entsql.Dialect(r.drv.Dialect()).
		Select(runColumns...).
		From(entsql.Table(runTable)).
		Where(entsql.EQ("extractor_id", extractorID)).
		OrderBy(entsql.Desc("started_at"), entsql.Asc("id"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()
	return r.query(ctx, q, args)
}

func (r *runRepo) query(ctx context.Context, q string, args []any) ([]entity.ExtractionRun, error) {
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, q, args, rows); err != nil {
		return nil, fmt.Errorf("%w: query runs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.ExtractionRun
	for rows.Next() {
		var (
			run                           entity.ExtractionRun
			extractorID                   uuid.NullUUID
			stage, errMsg, records, model sql.NullString
			finished                      sql.NullTime
		)
		if err := rows.Scan(&run.ID, &extractorID, &run.Status, &stage, &errMsg, &run.Attempts,
			&records, &model, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("%w: scan run: %v", common.ErrDatabase, err)
		}
		if extractorID.Valid {
			id := extractorID.UUID
			run.ExtractorID = &id
		}
		run.Stage = nullString(stage)
		run.ErrorMessage = nullString(errMsg)
		run.ModelName = nullString(model)
		if records.Valid {
			run.Records = json.RawMessage(records.String)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
