package model

// QuestionType is the input kind of a questionnaire item
type QuestionType string

const (
	QuestionText      QuestionType = "text"
	QuestionLongText  QuestionType = "textarea"
	QuestionNumber    QuestionType = "number"
	QuestionDate      QuestionType = "date"
	QuestionBoolean   QuestionType = "boolean"
	QuestionSelect    QuestionType = "select"
	QuestionChecklist QuestionType = "checklist"
	QuestionFile      QuestionType = "file"
	QuestionPhone     QuestionType = "phone"
	QuestionEmail     QuestionType = "email"
)

// Operator compares a referenced answer with a condition value
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
)

// Condition makes a question visible depending on another answer in the same department
type Condition struct {
	QuestionID string   `json:"questionId"`
	Operator   Operator `json:"operator"`
	Value      string   `json:"value"`
}

// Question belongs to exactly one department
type Question struct {
	ID           string       `json:"id"`
	DepartmentID DepartmentID `json:"departmentId"`
	Label        string       `json:"label"`
	Type         QuestionType `json:"type"`
	Required     bool         `json:"required"`
	Options      []string     `json:"options,omitempty"`
	Condition    *Condition   `json:"condition,omitempty"`
	Position     int          `json:"position"`
}

func (q Question) Clone() Question {
	out := q
	out.Options = append([]string(nil), q.Options...)
	if q.Condition != nil {
		c := *q.Condition
		out.Condition = &c
	}
	return out
}
