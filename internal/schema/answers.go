package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"caseflow/internal/gate"
	"caseflow/internal/model"
)

const phonePattern = `^\+?[0-9 ().\-]{8,20}$`

// FieldError is one answer that does not match its question type
type FieldError struct {
	QuestionID string `json:"questionId"`
	Label      string `json:"label"`
	Reason     string `json:"reason"`
}

// AnswerError lists every malformed answer of a submission
type AnswerError struct {
	DepartmentID model.DepartmentID
	Fields       []FieldError
}

func (e *AnswerError) Error() string {
	labels := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		labels = append(labels, f.Label)
	}
	return fmt.Sprintf("invalid answers in department %s: %s", e.DepartmentID, strings.Join(labels, ", "))
}

// QuestionSchema returns the JSON Schema an answer to q must satisfy, or
// nil when the type carries no format constraint
func QuestionSchema(q model.Question) map[string]interface{} {
	switch q.Type {
	case model.QuestionText, model.QuestionLongText:
		return map[string]interface{}{"type": "string"}
	case model.QuestionNumber:
		return map[string]interface{}{
			"anyOf": []interface{}{
				map[string]interface{}{"type": "number"},
				map[string]interface{}{"type": "string", "pattern": `^\s*-?\d+([.,]\d+)?\s*$`},
			},
		}
	case model.QuestionDate:
		return map[string]interface{}{"type": "string", "format": "date"}
	case model.QuestionBoolean:
		return map[string]interface{}{"type": "boolean"}
	case model.QuestionEmail:
		return map[string]interface{}{"type": "string", "format": "email"}
	case model.QuestionPhone:
		return map[string]interface{}{"type": "string", "pattern": phonePattern}
	case model.QuestionSelect:
		s := map[string]interface{}{"type": "string"}
		if len(q.Options) > 0 {
			s["enum"] = options(q.Options)
		}
		return s
	case model.QuestionChecklist:
		items := map[string]interface{}{"type": "string"}
		if len(q.Options) > 0 {
			items["enum"] = options(q.Options)
		}
		return map[string]interface{}{"type": "array", "items": items}
	default:
		return nil
	}
}

func options(opts []string) []interface{} {
	out := make([]interface{}, len(opts))
	for i, o := range opts {
		out[i] = o
	}
	return out
}

// ValidateAnswers checks the format of every non-empty answer. Presence of
// required answers is the gate's job, not this one.
func (c *Compiler) ValidateAnswers(ctx context.Context, dept model.DepartmentID, questions []model.Question, answers map[string]any) error {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	var fields []FieldError
	for id, v := range answers {
		q, ok := byID[id]
		if !ok {
			fields = append(fields, FieldError{QuestionID: id, Label: id, Reason: "unknown question"})
			continue
		}
		if gate.IsEmpty(v) {
			continue
		}
		s := QuestionSchema(q)
		if s == nil {
			continue
		}
		if err := c.Validate(ctx, s, v); err != nil {
			label := q.Label
			if label == "" {
				label = q.ID
			}
			fields = append(fields, FieldError{QuestionID: id, Label: label, Reason: err.Error()})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	sortFields(fields, questions)
	return &AnswerError{DepartmentID: dept, Fields: fields}
}

// sortFields orders errors by questionnaire position so messages are stable
func sortFields(fields []FieldError, questions []model.Question) {
	pos := make(map[string]int, len(questions))
	for i, q := range questions {
		pos[q.ID] = i
	}
	rank := func(id string) int {
		if p, ok := pos[id]; ok {
			return p
		}
		return len(questions)
	}
	sort.Slice(fields, func(i, j int) bool {
		ri, rj := rank(fields[i].QuestionID), rank(fields[j].QuestionID)
		if ri != rj {
			return ri < rj
		}
		return fields[i].QuestionID < fields[j].QuestionID
	})
}
