package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	entschema "github.com/joseph-ayodele/docextract/db/ent/schema"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/schema"
)

const extractorTable = "extractor"

var extractorColumns = []string{"id", "name", "description", "schema", "instructions", "created_at", "updated_at"}

type ExtractorRepository interface {
	Create(ctx context.Context, in entity.ExtractorInput) (*entity.Extractor, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Extractor, error)
	List(ctx context.Context) ([]entity.Extractor, error)
	Update(ctx context.Context, id uuid.UUID, in entity.ExtractorInput) (*entity.Extractor, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type extractorRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewExtractorRepository(db *DB, logger *slog.Logger) ExtractorRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &extractorRepo{drv: db.Driver, logger: logger}
}

// prepare validates in and returns the canonical schema text and the
// truncated description.
func prepareExtractor(in entity.ExtractorInput) (name, desc, schemaText string, err error) {
	name = strings.TrimSpace(in.Name)
	if err = checkString(entschema.Extractor{}, "name", name); err != nil {
		return "", "", "", err
	}
	desc = common.Truncate(strings.TrimSpace(in.Description), constants.MaxDescriptionLength)
	if err = checkString(entschema.Extractor{}, "description", desc); err != nil {
		return "", "", "", err
	}
	c, err := schema.Compile(in.Schema)
	if err != nil {
		return "", "", "", err
	}
	return name, desc, string(c.Raw()), nil
}

func (r *extractorRepo) Create(ctx context.Context, in entity.ExtractorInput) (*entity.Extractor, error) {
	name, desc, schemaText, err := prepareExtractor(in)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	e := &entity.Extractor{
		ID:           uuid.New(),
		Name:         name,
		Description:  desc,
		Schema:       []byte(schemaText),
		Instructions: in.Instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	q, args := entsql.Dialect(r.drv.Dialect()).
		Insert(extractorTable).
		Columns(extractorColumns...).
		Values(e.ID, e.Name, e.Description, schemaText, e.Instructions, e.CreatedAt, e.UpdatedAt).
		Query()
	if err := r.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create extractor", "name", name, "error", err)
		return nil, fmt.Errorf("%w: create extractor: %v", common.ErrDatabase, err)
	}
	r.logger.Info("extractor created", "extractor_id", e.ID, "name", name)
	return e, nil
}

func (r *extractorRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Extractor, error) {
	q, args := entsql.Dialect(r.drv.Dialect()).
		Select(extractorColumns...).
		From(entsql.Table(extractorTable)).
		Where(entsql.EQ("id", id)).
		Query()
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, q, args, rows); err != nil {
		return nil, fmt.Errorf("%w: get extractor: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	list, err := scanExtractors(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("extractor %s: %w", id, common.ErrNotFound)
	}
	return &list[0], nil
}

func (r *extractorRepo) List(ctx context.Context) ([]entity.Extractor, error) {
	q, args := entsql.Dialect(r.drv.Dialect()).
		Select(extractorColumns...).
		From(entsql.Table(extractorTable)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, q, args, rows); err != nil {
		return nil, fmt.Errorf("%w: list extractors: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	return scanExtractors(rows)
}

// Update replaces the mutable fields; the schema is compiled again first.
func (r *extractorRepo) Update(ctx context.Context, id uuid.UUID, in entity.ExtractorInput) (*entity.Extractor, error) {
	name, desc, schemaText, err := prepareExtractor(in)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	q, args := entsql.Dialect(r.drv.Dialect()).
		Update(extractorTable).
		Set("name", name).
		Set("description", desc).
		Set("schema", schemaText).
		Set("instructions", in.Instructions).
		Set("updated_at", now).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.execOne(ctx, q, args, id); err != nil {
		return nil, err
	}
	r.logger.Info("extractor updated", "extractor_id", id)
	return r.Get(ctx, id)
}

// Delete removes the extractor; its examples go with it.
func (r *extractorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	q, args := entsql.Dialect(r.drv.Dialect()).
		Delete(extractorTable).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.execOne(ctx, q, args, id); err != nil {
		return err
	}
	r.logger.Info("extractor deleted", "extractor_id", id)
	return nil
}

func (r *extractorRepo) execOne(ctx context.Context, q string, args []any, id uuid.UUID) error {
	var res sql.Result
	if err := r.drv.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("extractor write failed", "extractor_id", id, "error", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if n == 0 {
		return fmt.Errorf("extractor %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func scanExtractors(rows *entsql.Rows) ([]entity.Extractor, error) {
	var out []entity.Extractor
	for rows.Next() {
		var (
			e          entity.Extractor
			schemaText string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &schemaText, &e.Instructions, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan extractor: %v", common.ErrDatabase, err)
		}
		e.Schema = []byte(schemaText)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}
