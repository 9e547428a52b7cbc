package schema

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/common"
)

const personSchema = `{
  "title": "Person",
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "age": {"type": "integer"},
    "email": {"type": "string", "format": "email"},
    "tags": {"type": "array", "items": {"enum": ["a", "b"]}}
  },
  "required": ["name"]
}`

func TestCompileRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{``, `[]`, `"string"`, `42`, `true`, `{"type":`} {
		_, err := Compile([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, common.ErrSchemaInvalid), raw)
	}
}

func TestCompileRejectsMalformedKeywords(t *testing.T) {
	for _, raw := range []string{
		`{"type": "strng"}`,
		`{"type": 5}`,
		`{"properties": []}`,
		`{"required": "name"}`,
		`{"$ref": "https://example.com/other.json"}`,
	} {
		_, err := Compile([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, common.ErrSchemaInvalid), raw)
	}
}

func TestValidateConformingAndViolating(t *testing.T) {
	c, err := Compile([]byte(personSchema))
	require.NoError(t, err)

	require.NoError(t, c.ValidateJSON([]byte(`{"name":"Chester","age":42}`)))
	require.NoError(t, c.Validate(map[string]any{"name": "Grung", "age": 100, "tags": []string{"a"}}))

	err = c.ValidateJSON([]byte(`{"name":"Chester","age":"42"}`))
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "/age", v.Path)
	assert.NotEmpty(t, v.Reason)
	assert.True(t, errors.Is(err, common.ErrSchemaViolation))

	err = c.ValidateJSON([]byte(`{"age":1}`))
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Reason, "name")

	err = c.ValidateJSON([]byte(`{"name":"x","email":"not-an-email"}`))
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "/email", v.Path)

	err = c.ValidateJSON([]byte(`{"name":"x","tags":["c"]}`))
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "/tags/0", v.Path)
}

func TestValidateKeepsLargeIntegersExact(t *testing.T) {
	c, err := Compile([]byte(`{"type":"object","properties":{"n":{"type":"integer","maximum":9007199254740993}}}`))
	require.NoError(t, err)
	assert.NoError(t, c.ValidateJSON([]byte(`{"n":9007199254740993}`)))
	assert.Error(t, c.ValidateJSON([]byte(`{"n":9007199254740994}`)))
}

func TestRawIsCanonical(t *testing.T) {
	a, err := Compile([]byte(`{"type":"object","properties":{"b":{"type":"string"},"a":{"type":"string"}}}`))
	require.NoError(t, err)
	b, err := Compile([]byte("{\n \"properties\": {\"a\":{\"type\":\"string\"},\"b\":{\"type\":\"string\"}},\n \"type\": \"object\"}"))
	require.NoError(t, err)
	assert.Equal(t, string(a.Raw()), string(b.Raw()))
	assert.True(t, json.Valid(a.Raw()))
}

func TestRawKeepsTextUnescaped(t *testing.T) {
	c, err := Compile([]byte(`{"type":"object","description":"a < b & c"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"description":"a < b & c","type":"object"}`, string(c.Raw()))

	b, err := MarshalCanonical(map[string]any{"z": "<tag>", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":"<tag>"}`, string(b))
}

func TestCompiledIsSafeForConcurrentUse(t *testing.T) {
	c, err := Compile([]byte(personSchema))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, c.Validate(map[string]any{"name": "n", "age": i}))
			} else {
				assert.Error(t, c.Validate(map[string]any{"age": i}))
			}
		}(i)
	}
	wg.Wait()
}

func TestEditorKeepsLastGoodSchema(t *testing.T) {
	var e Editor
	assert.Nil(t, e.Current())
	assert.NoError(t, e.Preview([]byte(`{"anything":1}`)))

	first, err := e.Update([]byte(personSchema))
	require.NoError(t, err)
	assert.Same(t, first, e.Current())

	_, err = e.Update([]byte(`{"type": "strng"}`))
	require.Error(t, err)
	assert.Same(t, first, e.Current())

	assert.Error(t, e.Preview([]byte(`{"age":"x"}`)))
	assert.NoError(t, e.Preview([]byte(`{"name":"ok"}`)))
}

func TestCheckReportsSchemaAndInstanceProblems(t *testing.T) {
	r := Check([]byte(`{"type":"object","required":["name","age"]}`), []byte(`{}`))
	assert.False(t, r.Valid)
	assert.NotEmpty(t, r.Schema)
	require.Len(t, r.Violations, 1)
	assert.Equal(t, "", r.Violations[0].Path)

	r = Check([]byte(`{"type":"object"}`), nil)
	assert.True(t, r.Valid)
	assert.JSONEq(t, `{"type":"object"}`, string(r.Schema))

	r = Check([]byte(`[]`), []byte(`{}`))
	assert.False(t, r.Valid)
	assert.Contains(t, r.Error, "JSON object")
	assert.Empty(t, r.Schema)
}
