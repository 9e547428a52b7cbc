// Package schema compiles user-supplied JSON Schemas and validates instances against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docextract/internal/common"
)

const resourceURL = "schema.json"

// Compiled is an immutable compiled schema. It is safe for concurrent use.
type Compiled struct {
	schema *jsonschema.Schema
	raw    json.RawMessage
	doc    map[string]any
}

// Violation describes why an instance does not conform to a schema.
type Violation struct {
	Path   string      `json:"path"` // JSON pointer into the instance; "" is the root
	Reason string      `json:"reason"`
	Causes []Violation `json:"causes,omitempty"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Location(), v.Reason)
}

func (v *Violation) Unwrap() error { return common.ErrSchemaViolation }

// Location renders Path for humans.
func (v *Violation) Location() string {
	if v.Path == "" {
		return "(root)"
	}
	return v.Path
}

// Compile parses and compiles a schema document. The top level must be a JSON object.
func Compile(raw []byte) (*Compiled, error) {
	doc, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSchemaInvalid, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	compiler.LoadURL = func(s string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("remote reference %q not allowed", s)
	}
	if err := compiler.AddResource(resourceURL, bytes.NewReader(canonical)); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSchemaInvalid, err)
	}
	s, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrSchemaInvalid, compileReason(err))
	}
	return &Compiled{schema: s, raw: canonical, doc: doc}, nil
}

// CompileMap compiles a schema already decoded into a map.
func CompileMap(doc map[string]any) (*Compiled, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: schema is empty", common.ErrSchemaInvalid)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSchemaInvalid, err)
	}
	return Compile(b)
}

// MarshalCanonical encodes v as compact JSON with sorted keys and without
// HTML escaping, so text such as "a < b & c" survives as written.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Raw returns the schema as compact JSON with sorted keys.
func (c *Compiled) Raw() json.RawMessage { return c.raw }

// Document returns the decoded schema. Callers must not modify it.
func (c *Compiled) Document() map[string]any { return c.doc }

// Validate checks instance against the schema. Go values are normalized
// through JSON first, so structs and typed slices are accepted.
func (c *Compiled) Validate(instance any) error {
	v, err := normalize(instance)
	if err != nil {
		return &Violation{Reason: err.Error()}
	}
	return c.validateValue(v)
}

// ValidateJSON decodes data (numbers kept as json.Number) and validates it.
func (c *Compiled) ValidateJSON(data []byte) error {
	v, err := decode(data)
	if err != nil {
		return &Violation{Reason: "invalid JSON: " + err.Error()}
	}
	return c.validateValue(v)
}

func (c *Compiled) validateValue(v any) error {
	err := c.schema.Validate(v)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &Violation{Reason: err.Error()}
	}
	leaves := collectLeaves(ve, nil)
	out := &Violation{Path: leaves[0].Path, Reason: leaves[0].Reason}
	if len(leaves) > 1 {
		out.Causes = leaves
	}
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, acc []Violation) []Violation {
	if len(ve.Causes) == 0 {
		return append(acc, Violation{Path: ve.InstanceLocation, Reason: ve.Message})
	}
	for _, c := range ve.Causes {
		acc = collectLeaves(c, acc)
	}
	return acc
}

func compileReason(err error) string {
	var se *jsonschema.SchemaError
	if errors.As(err, &se) {
		var ve *jsonschema.ValidationError
		if errors.As(se.Err, &ve) {
			leaves := collectLeaves(ve, nil)
			parts := make([]string, 0, len(leaves))
			for _, l := range leaves {
				parts = append(parts, fmt.Sprintf("%s: %s", l.Location(), l.Reason))
			}
			return strings.Join(parts, "; ")
		}
		if se.Err != nil {
			return strings.TrimPrefix(se.Err.Error(), "jsonschema: ")
		}
	}
	return strings.TrimPrefix(err.Error(), "jsonschema: ")
}

func decodeObject(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: schema is empty", common.ErrSchemaInvalid)
	}
	v, err := decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSchemaInvalid, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level schema must be a JSON object", common.ErrSchemaInvalid)
	}
	return obj, nil
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, json.Number:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decode(b)
}
