package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	entschema "github.com/joseph-ayodele/docextract/db/ent/schema"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const exampleTable = "example"

var exampleColumns = []string{"id", "extractor_id", "content", "output", "created_at"}

type ExampleRepository interface {
	Create(ctx context.Context, extractorID uuid.UUID, content string, output json.RawMessage) (*entity.Example, error)
	ListByExtractor(ctx context.Context, extractorID uuid.UUID) ([]entity.Example, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type exampleRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewExampleRepository(db *DB, logger *slog.Logger) ExampleRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &exampleRepo{drv: db.Driver, logger: logger}
}

// Create stores an example. output must be a JSON array; the records are not
// checked against the extractor's schema.
func (r *exampleRepo) Create(ctx context.Context, extractorID uuid.UUID, content string, output json.RawMessage) (*entity.Example, error) {
	if err := checkString(entschema.Example{}, "content", strings.TrimSpace(content)); err != nil {
		return nil, err
	}
	out := strings.TrimSpace(string(output))
	if out == "" {
		out = "[]"
	}
	if err := checkString(entschema.Example{}, "output", out); err != nil {
		return nil, err
	}

	ex := &entity.Example{
		ID:          uuid.New(),
		ExtractorID: extractorID,
		Content:     content,
		Output:      json.RawMessage(out),
		CreatedAt:   time.Now().UTC(),
	}
	q, args := entsql.Dialect(r.drv.Dialect()).
		Insert(exampleTable).
		Columns(exampleColumns...).
		Values(ex.ID, ex.ExtractorID, ex.Content, out, ex.CreatedAt).
		Query()
	if err := r.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create example", "extractor_id", extractorID, "error", err)
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("extractor %s: %w", extractorID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: create example: %v", common.ErrDatabase, err)
	}
	r.logger.Info("example created", "example_id", ex.ID, "extractor_id", extractorID)
	return ex, nil
}

// ListByExtractor returns the examples oldest first.
func (r *exampleRepo) ListByExtractor(ctx context.Context, extractorID uuid.UUID) ([]entity.Example, error) {
	q, args := entsql.Dialect(r.drv.Dialect()).
		Select(exampleColumns...).
		From(entsql.Table(exampleTable)).
		Where(entsql.EQ("extractor_id", extractorID)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, q, args, rows); err != nil {
		return nil, fmt.Errorf("%w: list examples: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Example
	for rows.Next() {
		var (
			ex     entity.Example
			output string
		)
		if err := rows.Scan(&ex.ID, &ex.ExtractorID, &ex.Content, &output, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan example: %v", common.ErrDatabase, err)
		}
		ex.Output = json.RawMessage(output)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *exampleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	q, args := entsql.Dialect(r.drv.Dialect()).
		Delete(exampleTable).
		Where(entsql.EQ("id", id)).
		Query()
	var res sql.Result
	if err := r.drv.Exec(ctx, q, args, &res); err != nil {
		return fmt.Errorf("%w: delete example: %v", common.ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("example %s: %w", id, common.ErrNotFound)
	}
	r.logger.Info("example deleted", "example_id", id)
	return nil
}

// isForeignKeyViolation matches the Postgres SQLSTATE and the SQLite message.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
