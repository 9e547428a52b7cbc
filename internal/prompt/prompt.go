// Package prompt renders the chat messages sent to the model for extraction,
// schema suggestion and repair. Rendering is a pure function of its inputs.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/schema"
)

const extractTask = "You extract structured data from documents. " +
	"Read the document in the last user message and return every record it contains that matches the JSON Schema below. " +
	"Return ONLY a JSON object, no prose and no code fences."

const suggestTask = "You design JSON Schemas (draft 2020-12) for data extraction. " +
	"Given a description of the records a user wants to extract, return ONLY a JSON Schema object describing ONE record. " +
	"Use \"type\": \"object\" at the top level, give every field a type and a short description, and list the fields that must always be present under \"required\". " +
	"Do not use remote $ref. No prose and no code fences."

// Render builds the extraction prompt: one system message, a user/assistant
// pair per example (in the given order), then the document text.
func Render(s *schema.Compiled, instructions string, examples []entity.Example, text string) ([]llm.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document text is empty", common.ErrEmptyDocument)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: no schema", common.ErrSchemaInvalid)
	}

	msgs := make([]llm.Message, 0, 2+2*len(examples))
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(s, instructions)})
	for i, ex := range examples {
		out, err := Envelope(ex.Output)
		if err != nil {
			return nil, fmt.Errorf("%w: example %d output: %v", common.ErrInvalidInput, i, err)
		}
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: ex.Content},
			llm.Message{Role: llm.RoleAssistant, Content: out},
		)
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
	return msgs, nil
}

func systemPrompt(s *schema.Compiled, instructions string) string {
	var b strings.Builder
	b.WriteString(extractTask)
	b.WriteString("\n\nJSON Schema for one record:\n")
	b.Write(s.Raw())
	b.WriteString("\n\n")
	b.WriteString(envelopeContract())
	if ins := strings.TrimSpace(instructions); ins != "" {
		b.WriteString("\n\nInstructions:\n")
		b.WriteString(ins)
	}
	return b.String()
}

func envelopeContract() string {
	return fmt.Sprintf("Respond with {%q: [record, ...]}. Each record must conform to the schema. "+
		"Keep records in the order they appear in the document. "+
		"If nothing in the document matches, respond with {%q: []}.", constants.EnvelopeKey, constants.EnvelopeKey)
}

// Envelope wraps a JSON array of records as {"data":[...]}, in compact form
// with sorted keys.
func Envelope(records json.RawMessage) (string, error) {
	recs := records
	if len(bytes.TrimSpace(recs)) == 0 {
		recs = json.RawMessage("[]")
	}
	dec := json.NewDecoder(bytes.NewReader(recs))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return "", fmt.Errorf("records must be a JSON array: %w", err)
	}
	if arr == nil {
		arr = []any{}
	}
	b, err := schema.MarshalCanonical(map[string]any{constants.EnvelopeKey: arr})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RenderSuggestion builds the schema-authoring prompt. currentDraft may be
// empty or "{}" when there is nothing to refine.
func RenderSuggestion(description, currentDraft string) ([]llm.Message, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", common.ErrInvalidInput)
	}

	var b strings.Builder
	b.WriteString("Description:\n")
	b.WriteString(description)
	if draft := strings.TrimSpace(currentDraft); draft != "" && draft != "{}" {
		b.WriteString("\n\nCurrent draft schema (refine it, keep fields that still apply):\n")
		b.WriteString(draft)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: suggestTask},
		{Role: llm.RoleUser, Content: b.String()},
	}, nil
}

// RepairMessages extends base with the rejected output and a request to fix
// the described problem. base is not modified.
func RepairMessages(base []llm.Message, lastOutput, problem string) []llm.Message {
	if strings.TrimSpace(lastOutput) == "" {
		lastOutput = "(empty response)"
	}
	msgs := make([]llm.Message, 0, len(base)+2)
	msgs = append(msgs, base...)
	return append(msgs,
		llm.Message{Role: llm.RoleAssistant, Content: lastOutput},
		llm.Message{Role: llm.RoleUser, Content: "Your previous response was rejected:\n" + problem +
			"\n\nReturn the corrected response only, following the required format exactly."},
	)
}
