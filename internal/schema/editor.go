package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
)

// Editor backs live schema validation while a user edits a draft. It keeps
// only the last schema that compiled successfully.
type Editor struct {
	mu   sync.RWMutex
	last *Compiled
}

// Update compiles text. On success the compiled schema replaces the retained
// one; on failure the retained schema is left untouched and the error returned.
func (e *Editor) Update(text []byte) (*Compiled, error) {
	c, err := Compile(text)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.last = c
	e.mu.Unlock()
	return c, nil
}

// Current returns the last good schema, or nil if nothing compiled yet.
func (e *Editor) Current() *Compiled {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Preview validates instance against the last good schema.
func (e *Editor) Preview(instance []byte) error {
	c := e.Current()
	if c == nil {
		return nil
	}
	return c.ValidateJSON(instance)
}

// Report is the outcome of Check.
type Report struct {
	Valid      bool            `json:"valid"`
	Error      string          `json:"error,omitempty"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	Violations []Violation     `json:"violations,omitempty"`
}

// Check compiles text and, when instance is non-empty, validates it. Problems
// are reported in the Report rather than returned as errors.
func Check(text, instance []byte) Report {
	var e Editor
	c, err := e.Update(text)
	if err != nil {
		return Report{Error: err.Error()}
	}
	r := Report{Valid: true, Schema: c.Raw()}
	if len(bytes.TrimSpace(instance)) == 0 {
		return r
	}
	if err := e.Preview(instance); err != nil {
		r.Valid = false
		r.Error = err.Error()
		var v *Violation
		if errors.As(err, &v) {
			r.Violations = flatten(*v)
		}
	}
	return r
}

func flatten(v Violation) []Violation {
	if len(v.Causes) == 0 {
		return []Violation{{Path: v.Path, Reason: v.Reason}}
	}
	var out []Violation
	for _, c := range v.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
