package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const personSchema = `{"type":"object","properties":{"name":{"type":"string"},"age":{"type":"integer"}}}`

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), common.DatabaseConfig{DSN: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestTablesFromEntSchemas(t *testing.T) {
	tables, err := Tables()
	require.NoError(t, err)
	require.Len(t, tables, 3)

	byName := map[string]int{}
	for i, tb := range tables {
		byName[tb.Name] = i
	}
	require.Contains(t, byName, "extractor")
	require.Contains(t, byName, "example")
	require.Contains(t, byName, "extraction_run")

	ex := tables[byName["example"]]
	require.Len(t, ex.ForeignKeys, 1)
	assert.Equal(t, "extractor", ex.ForeignKeys[0].RefTable.Name)
	assert.Equal(t, "CASCADE", string(ex.ForeignKeys[0].OnDelete))

	run := tables[byName["extraction_run"]]
	require.Len(t, run.ForeignKeys, 1)
	assert.Equal(t, "SET NULL", string(run.ForeignKeys[0].OnDelete))
	col, ok := run.Column("extractor_id")
	require.True(t, ok)
	assert.True(t, col.Nullable)
	assert.Len(t, run.Indexes, 2)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "app.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("sqlite:app.db"))
	assert.Equal(t, "file:x.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("file:x.db?mode=rwc"))
	mem := sqliteDSN("sqlite::memory:")
	assert.True(t, strings.HasPrefix(mem, "file:docextract-"))
	assert.Contains(t, mem, "mode=memory&cache=shared")
	assert.NotEqual(t, mem, sqliteDSN(":memory:"))
}

func TestExtractorCRUD(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewExtractorRepository(db, nil)

	long := strings.Repeat("é", constants.MaxDescriptionLength+20)
	created, err := repo.Create(ctx, entity.ExtractorInput{
		Name:        " person ",
		Description: long,
		Schema:      json.RawMessage(personSchema),
	})
	require.NoError(t, err)
	assert.Equal(t, "person", created.Name)
	assert.Equal(t, constants.MaxDescriptionLength, len([]rune(created.Description)))
	assert.Equal(t, `{"properties":{"age":{"type":"integer"},"name":{"type":"string"}},"type":"object"}`, string(created.Schema))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Description, got.Description)
	assert.JSONEq(t, personSchema, string(got.Schema))
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

	updated, err := repo.Update(ctx, created.ID, entity.ExtractorInput{
		Name:         "person",
		Schema:       json.RawMessage(personSchema),
		Instructions: "Redact all names using ######",
	})
	require.NoError(t, err)
	assert.Equal(t, "Redact all names using ######", updated.Instructions)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.True(t, errors.Is(repo.Delete(ctx, created.ID), common.ErrNotFound))
}

func TestExtractorRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	repo := NewExtractorRepository(openTestDB(t), nil)

	_, err := repo.Create(ctx, entity.ExtractorInput{Name: "x", Schema: json.RawMessage(`[1,2]`)})
	assert.True(t, errors.Is(err, common.ErrSchemaInvalid))

	_, err = repo.Create(ctx, entity.ExtractorInput{Name: "  ", Schema: json.RawMessage(personSchema)})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	_, err = repo.Update(ctx, uuid.New(), entity.ExtractorInput{Name: "x", Schema: json.RawMessage(personSchema)})
	assert.True(t, errors.Is(err, common.ErrNotFound))

	e, err := repo.Create(ctx, entity.ExtractorInput{Name: "x", Schema: json.RawMessage(personSchema)})
	require.NoError(t, err)
	_, err = repo.Update(ctx, e.ID, entity.ExtractorInput{Name: "x", Schema: json.RawMessage(`{"type":"nope"}`)})
	assert.True(t, errors.Is(err, common.ErrSchemaInvalid))
}

func TestExamplesOrderedAndCascaded(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	extractors := NewExtractorRepository(db, nil)
	examples := NewExampleRepository(db, nil)

	e, err := extractors.Create(ctx, entity.ExtractorInput{Name: "person", Schema: json.RawMessage(personSchema)})
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, content := range []string{"first", "second", "third"} {
		ex, err := examples.Create(ctx, e.ID, content, json.RawMessage(`[{"name":"`+content+`"}]`))
		require.NoError(t, err)
		ids = append(ids, ex.ID)
		time.Sleep(2 * time.Millisecond)
	}

	list, err := examples.ListByExtractor(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, ex := range list {
		assert.Equal(t, ids[i], ex.ID)
	}
	recs, err := list[1].Records()
	require.NoError(t, err)
	assert.Equal(t, "second", recs[0]["name"])

	_, err = examples.Create(ctx, e.ID, "x", json.RawMessage(`{"not":"array"}`))
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
	_, err = examples.Create(ctx, uuid.New(), "x", nil)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	require.NoError(t, examples.Delete(ctx, ids[0]))
	require.NoError(t, extractors.Delete(ctx, e.ID))
	list, err = examples.ListByExtractor(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	extractors := NewExtractorRepository(db, nil)
	runs := NewRunRepository(db, nil)

	e, err := extractors.Create(ctx, entity.ExtractorInput{Name: "person", Schema: json.RawMessage(personSchema)})
	require.NoError(t, err)

	run, err := runs.Start(ctx, &e.ID, "gpt-4o-mini")
	require.NoError(t, err)
	run.Status = string(constants.RunStatusSucceeded)
	run.Attempts = 2
	run.Records = json.RawMessage(`{"data":[{"name":"Chester","age":42}]}`)
	require.NoError(t, runs.Finish(ctx, run))

	got, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.RunStatusSucceeded), got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.JSONEq(t, string(run.Records), string(got.Records))
	require.NotNil(t, got.ModelName)
	assert.Equal(t, "gpt-4o-mini", *got.ModelName)
	require.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Stage)

	adhoc, err := runs.Start(ctx, nil, "")
	require.NoError(t, err)
	stage, msg := "load", "empty document"
	adhoc.Status, adhoc.Stage, adhoc.ErrorMessage = string(constants.RunStatusFailed), &stage, &msg
	require.NoError(t, runs.Finish(ctx, adhoc))
	got, err = runs.Get(ctx, adhoc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExtractorID)
	assert.Equal(t, "load", *got.Stage)

	adhoc.Status = "DONE"
	assert.True(t, errors.Is(runs.Finish(ctx, adhoc), common.ErrInvalidInput))

	list, err := runs.ListByExtractor(ctx, e.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = runs.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background(), time.Second, 2))
	assert.Equal(t, "sqlite3", db.Dialect())
}
