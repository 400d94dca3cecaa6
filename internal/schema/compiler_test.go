package schema

import (
	"context"
	"testing"

	"caseflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompiler_Prepare(t *testing.T) {
	compiler := NewCompilerWithCache(64)
	ctx := context.Background()

	schema := map[string]interface{}{"type": "string", "format": "email"}

	first, err := compiler.Prepare(ctx, schema)
	require.NoError(t, err)
	second, err := compiler.Prepare(ctx, schema)
	require.NoError(t, err)
	assert.Same(t, first, second, "second prepare is served from cache")
}

func TestCompiler_DistinctSchemasDoNotCollide(t *testing.T) {
	compiler := NewCompilerWithCache(64)
	ctx := context.Background()

	str := map[string]interface{}{"type": "string"}
	num := map[string]interface{}{"type": "number"}

	assert.NoError(t, compiler.Validate(ctx, str, "x"))
	assert.NoError(t, compiler.Validate(ctx, num, 1.5))
	assert.Error(t, compiler.Validate(ctx, num, "x"))
}

func TestValidateAnswers(t *testing.T) {
	compiler := NewCompilerWithCache(64)
	ctx := context.Background()

	questions := []model.Question{
		{ID: "mail", Label: "E-mail", Type: model.QuestionEmail},
		{ID: "amount", Label: "Amount", Type: model.QuestionNumber},
		{ID: "due", Label: "Due date", Type: model.QuestionDate},
		{ID: "phone", Label: "Phone", Type: model.QuestionPhone},
		{ID: "kind", Label: "Kind", Type: model.QuestionSelect, Options: []string{"a", "b"}},
		{ID: "docs", Label: "Docs", Type: model.QuestionChecklist, Options: []string{"x", "y"}},
		{ID: "ok", Label: "Ok", Type: model.QuestionBoolean},
		{ID: "file", Label: "File", Type: model.QuestionFile},
	}

	valid := map[string]any{
		"mail":   "someone@example.com",
		"amount": "12,50",
		"due":    "2024-03-01",
		"phone":  "+55 (11) 99999-0000",
		"kind":   "b",
		"docs":   []string{"x"},
		"ok":     true,
		"file":   nil,
	}
	require.NoError(t, compiler.ValidateAnswers(ctx, 1, questions, valid))

	invalid := map[string]any{
		"mail":   "not-an-email",
		"amount": "twelve",
		"kind":   "c",
		"docs":   []string{"z"},
		"ghost":  "?",
		"due":    "",
	}
	err := compiler.ValidateAnswers(ctx, 1, questions, invalid)
	require.Error(t, err)

	var answerErr *AnswerError
	require.ErrorAs(t, err, &answerErr)
	ids := make([]string, 0, len(answerErr.Fields))
	for _, f := range answerErr.Fields {
		ids = append(ids, f.QuestionID)
	}
	assert.Equal(t, []string{"mail", "amount", "kind", "docs", "ghost"}, ids)
	assert.Contains(t, err.Error(), "E-mail")
}
