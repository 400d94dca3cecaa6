package gate

import (
	"testing"

	"caseflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dept(id model.DepartmentID) model.Department {
	return model.Department{ID: id, Name: "D"}
}

func TestMissingRequirements_RequiredText(t *testing.T) {
	qs := []model.Question{
		{ID: "q1", Label: "Contract number", Type: model.QuestionText, Required: true},
		{ID: "q2", Label: "Notes", Type: model.QuestionLongText},
	}

	missing := MissingRequirements(Input{Department: dept(1), Questions: qs})
	require.Len(t, missing, 1)
	assert.Equal(t, "q1", missing[0].ID)
	assert.Equal(t, "Contract number", missing[0].Label)
	assert.Equal(t, model.DepartmentID(1), missing[0].DepartmentID)

	missing = MissingRequirements(Input{Department: dept(1), Questions: qs, Answers: map[string]any{"q1": "   "}})
	assert.Len(t, missing, 1, "whitespace-only answer is empty")

	missing = MissingRequirements(Input{Department: dept(1), Questions: qs, Answers: map[string]any{"q1": "ok"}})
	assert.Empty(t, missing)
}

func TestMissingRequirements_NonStringAnswers(t *testing.T) {
	qs := []model.Question{
		{ID: "n", Label: "Amount", Type: model.QuestionNumber, Required: true},
		{ID: "b", Label: "Signed", Type: model.QuestionBoolean, Required: true},
		{ID: "c", Label: "Items", Type: model.QuestionChecklist, Required: true},
	}
	answers := map[string]any{"n": float64(0), "b": false, "c": []any{}}

	missing := MissingRequirements(Input{Department: dept(1), Questions: qs, Answers: answers})
	require.Len(t, missing, 1)
	assert.Equal(t, "c", missing[0].ID)
}

func TestMissingRequirements_HiddenQuestionsSkipped(t *testing.T) {
	qs := []model.Question{
		{ID: "kind", Label: "Kind", Type: model.QuestionSelect, Options: []string{"pf", "pj"}},
		{ID: "cnpj", Label: "CNPJ", Type: model.QuestionText, Required: true,
			Condition: &model.Condition{QuestionID: "kind", Operator: model.OpEquals, Value: "pj"}},
		{ID: "cpf", Label: "CPF", Type: model.QuestionText, Required: true,
			Condition: &model.Condition{QuestionID: "kind", Operator: model.OpNotEquals, Value: "pj"}},
	}

	// Referenced answer absent: both conditional questions hidden.
	assert.Empty(t, MissingRequirements(Input{Department: dept(1), Questions: qs}))

	missing := MissingRequirements(Input{Department: dept(1), Questions: qs, Answers: map[string]any{"kind": "pj"}})
	require.Len(t, missing, 1)
	assert.Equal(t, "cnpj", missing[0].ID)

	missing = MissingRequirements(Input{Department: dept(1), Questions: qs, Answers: map[string]any{"kind": "pf"}})
	require.Len(t, missing, 1)
	assert.Equal(t, "cpf", missing[0].ID)
}

func TestVisible_Operators(t *testing.T) {
	cases := []struct {
		name    string
		op      model.Operator
		value   string
		answer  any
		visible bool
	}{
		{"equals string", model.OpEquals, "yes", "yes", true},
		{"equals trims", model.OpEquals, "yes", " yes ", true},
		{"equals mismatch", model.OpEquals, "yes", "no", false},
		{"equals bool", model.OpEquals, "true", true, true},
		{"equals number", model.OpEquals, "3", float64(3), true},
		{"not equals", model.OpNotEquals, "yes", "no", true},
		{"not equals same", model.OpNotEquals, "yes", "yes", false},
		{"contains substring", model.OpContains, "bank", "bank slip", true},
		{"contains multi-select", model.OpContains, "b", []any{"a", "b"}, true},
		{"contains multi-select miss", model.OpContains, "c", []string{"a", "b"}, false},
		{"empty reference hides", model.OpNotEquals, "x", "", false},
		{"empty list hides", model.OpContains, "x", []any{}, false},
		{"unknown operator hides", model.Operator("gt"), "1", "2", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := model.Question{ID: "q", Condition: &model.Condition{QuestionID: "ref", Operator: tc.op, Value: tc.value}}
			assert.Equal(t, tc.visible, Visible(q, map[string]any{"ref": tc.answer}))
		})
	}
}

func TestMissingRequirements_FileQuestions(t *testing.T) {
	qs := []model.Question{
		{ID: "contract", Label: "Signed contract", Type: model.QuestionFile, Required: true},
		{ID: "id", Label: "ID copy", Type: model.QuestionFile, Required: true},
	}

	t.Run("no documents", func(t *testing.T) {
		missing := MissingRequirements(Input{Department: dept(2), Questions: qs})
		assert.Len(t, missing, 2)
	})

	t.Run("visible document satisfies", func(t *testing.T) {
		docs := []model.Document{{ID: "d1", DepartmentID: 2, QuestionID: "contract"}}
		missing := MissingRequirements(Input{Department: dept(2), Questions: qs, Documents: docs})
		require.Len(t, missing, 1)
		assert.Equal(t, "id", missing[0].ID)
	})

	t.Run("restricted document counted by question", func(t *testing.T) {
		counts := model.AttachmentCount{Total: 1, ByQuestion: map[string]int{"id": 1}}
		docs := []model.Document{{ID: "d1", DepartmentID: 2, QuestionID: "contract"}}
		missing := MissingRequirements(Input{Department: dept(2), Questions: qs, Documents: docs, Counts: counts})
		assert.Empty(t, missing)
	})

	t.Run("department total without breakdown", func(t *testing.T) {
		counts := model.AttachmentCount{Total: 1}
		docs := []model.Document{{ID: "d1", DepartmentID: 2, QuestionID: "contract"}}
		missing := MissingRequirements(Input{Department: dept(2), Questions: qs, Documents: docs, Counts: counts})
		assert.Len(t, missing, 1, "the single counted file is the visible one")

		counts.Total = 2
		missing = MissingRequirements(Input{Department: dept(2), Questions: qs, Documents: docs, Counts: counts})
		assert.Empty(t, missing)
	})
}

func TestMissingRequirements_DepartmentDocuments(t *testing.T) {
	d := model.Department{ID: 3, RequiredDocuments: []string{"Invoice"}}

	missing := MissingRequirements(Input{Department: d})
	require.Len(t, missing, 1)
	assert.Equal(t, "Invoice", missing[0].Label)

	docs := []model.Document{{ID: "x", DepartmentID: 3, Requirement: "Invoice"}}
	assert.Empty(t, MissingRequirements(Input{Department: d, Documents: docs}))

	counts := model.AttachmentCount{ByRequirement: map[string]int{"Invoice": 1}}
	assert.Empty(t, MissingRequirements(Input{Department: d, Counts: counts}))
}

func TestForCase(t *testing.T) {
	c := &model.Case{
		Flow:      []model.DepartmentID{1, 2},
		Questions: map[model.DepartmentID][]model.Question{2: {{ID: "q", Required: true, Type: model.QuestionText}}},
		Answers:   map[model.DepartmentID]map[string]any{2: {"q": "done"}},
		Documents: []model.Document{{ID: "a", DepartmentID: 1}, {ID: "b", DepartmentID: 2}},
	}

	in := ForCase(c, dept(2))
	assert.Len(t, in.Questions, 1)
	assert.Equal(t, "done", in.Answers["q"])
	require.Len(t, in.Documents, 1)
	assert.Equal(t, "b", in.Documents[0].ID)
	assert.Empty(t, MissingRequirements(in))
}
