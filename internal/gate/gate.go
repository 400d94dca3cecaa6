// Package gate decides which mandatory items of a department are still
// missing. It is pure and never touches the network, so callers can
// pre-validate before submitting a transition.
package gate

import (
	"fmt"
	"strconv"
	"strings"

	"caseflow/internal/model"
)

// MissingItem is one unmet requirement
type MissingItem struct {
	DepartmentID model.DepartmentID `json:"departmentId"`
	ID           string             `json:"id"`
	Label        string             `json:"label"`
}

// Input carries what the validator needs for one department
type Input struct {
	Department model.Department
	Questions  []model.Question
	Answers    map[string]any
	Documents  []model.Document
	// Counts is the server-side attachment count, which includes files the
	// current viewer is not allowed to see
	Counts model.AttachmentCount
}

// ForCase builds the Input for dept from a case record
func ForCase(c *model.Case, dept model.Department) Input {
	return Input{
		Department: dept,
		Questions:  c.Questions[dept.ID],
		Answers:    c.Answers[dept.ID],
		Documents:  c.DocumentsFor(dept.ID),
		Counts:     c.AttachmentCounts[dept.ID],
	}
}

// MissingRequirements returns the unmet items; empty means the department may proceed
func MissingRequirements(in Input) []MissingItem {
	var missing []MissingItem
	for _, q := range in.Questions {
		if !q.Required || !Visible(q, in.Answers) {
			continue
		}
		if q.Type == model.QuestionFile {
			if !fileSatisfied(q.ID, in.Documents, in.Counts) {
				missing = append(missing, item(in.Department.ID, q))
			}
			continue
		}
		if IsEmpty(in.Answers[q.ID]) {
			missing = append(missing, item(in.Department.ID, q))
		}
	}
	for _, req := range in.Department.RequiredDocuments {
		if !requirementSatisfied(req, in.Documents, in.Counts) {
			missing = append(missing, MissingItem{
				DepartmentID: in.Department.ID,
				ID:           "doc:" + req,
				Label:        req,
			})
		}
	}
	return missing
}

func item(dept model.DepartmentID, q model.Question) MissingItem {
	label := q.Label
	if label == "" {
		label = q.ID
	}
	return MissingItem{DepartmentID: dept, ID: q.ID, Label: label}
}

func fileSatisfied(questionID string, docs []model.Document, counts model.AttachmentCount) bool {
	for _, d := range docs {
		if d.QuestionID == questionID {
			return true
		}
	}
	// Nothing visible to this viewer; a restricted file still satisfies the gate.
	if n, ok := counts.ByQuestion[questionID]; ok {
		return n > 0
	}
	return len(counts.ByQuestion) == 0 && counts.Total > len(docs)
}

func requirementSatisfied(req string, docs []model.Document, counts model.AttachmentCount) bool {
	for _, d := range docs {
		if d.Requirement == req {
			return true
		}
	}
	return counts.ByRequirement[req] > 0
}

// Visible evaluates q's condition against the department's answers. A
// condition whose referenced answer is absent or empty hides the question.
func Visible(q model.Question, answers map[string]any) bool {
	c := q.Condition
	if c == nil || c.QuestionID == "" {
		return true
	}
	ref, ok := answers[c.QuestionID]
	if !ok || IsEmpty(ref) {
		return false
	}
	switch c.Operator {
	case model.OpEquals, "":
		return equals(ref, c.Value)
	case model.OpNotEquals:
		return !equals(ref, c.Value)
	case model.OpContains:
		return contains(ref, c.Value)
	default:
		return false
	}
}

// IsEmpty reports absent, null, blank strings and empty multi-select values
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

func equals(v any, want string) bool {
	switch t := v.(type) {
	case []any, []string:
		items := toStrings(t)
		return len(items) == 1 && items[0] == want
	default:
		return Stringify(v) == want
	}
}

func contains(v any, want string) bool {
	switch t := v.(type) {
	case []any, []string:
		for _, s := range toStrings(t) {
			if s == want {
				return true
			}
		}
		return false
	default:
		return strings.Contains(Stringify(v), want)
	}
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, Stringify(x))
		}
		return out
	}
	return nil
}

// Stringify renders a scalar answer the way conditions compare it
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
