package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

func readRows(t *testing.T, xlsx []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(xlsx))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestRecordsXLSXColumnsInFirstSeenOrder(t *testing.T) {
	xlsx, n, err := RecordsXLSX([]byte(`{"data":[
		{"name":"Chester","age":42},
		{"age":36,"email":"ada@example.com","name":"Ada","tags":["a","b"]},
		{"address":{"city":"Lagos"},"ok":true}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows := readRows(t, xlsx)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"name", "age", "email", "tags", "address", "ok"}, rows[0])
	assert.Equal(t, []string{"Chester", "42"}, rows[1])
	assert.Equal(t, []string{"Ada", "36", "ada@example.com", `["a","b"]`}, rows[2])
	assert.Equal(t, []string{"", "", "", "", `{"city":"Lagos"}`, "TRUE"}, rows[3])
}

func TestRecordsXLSXAcceptsBareArrayAndEmpty(t *testing.T) {
	xlsx, n, err := RecordsXLSX([]byte(`[{"a":1.5}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][]string{{"a"}, {"1.5"}}, readRows(t, xlsx))

	_, n, err = RecordsXLSX([]byte(`{"data":[]}`))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _, err = RecordsXLSX([]byte(`{"data":[1]}`))
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

type runStore map[uuid.UUID]*entity.ExtractionRun

func (s runStore) Get(_ context.Context, id uuid.UUID) (*entity.ExtractionRun, error) {
	if r, ok := s[id]; ok {
		return r, nil
	}
	return nil, common.ErrNotFound
}

func TestExportRun(t *testing.T) {
	ok, failed := uuid.New(), uuid.New()
	svc := NewService(runStore{
		ok:     {ID: ok, Status: string(constants.RunStatusSucceeded), Records: json.RawMessage(`{"data":[{"name":"Chester"}]}`)},
		failed: {ID: failed, Status: string(constants.RunStatusFailed)},
	}, nil)

	xlsx, err := svc.ExportRunXLSX(context.Background(), ok)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"name"}, {"Chester"}}, readRows(t, xlsx))

	_, err = svc.ExportRunXLSX(context.Background(), failed)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
	_, err = svc.ExportRunXLSX(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
