package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/model"
	"caseflow/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequential(id string) model.Case {
	return model.Case{
		ID:        id,
		Title:     "Order 42",
		Status:    model.StatusInProgress,
		Priority:  model.PriorityMedium,
		Flow:      []model.DepartmentID{1, 2, 3},
		CreatedBy: "creator",
	}
}

func independent(id string) model.Case {
	c := sequential(id)
	c.Independent = true
	return c
}

func requireRejected(t *testing.T, err error, code string) *backend.Error {
	t.Helper()
	require.Error(t, err)
	var rej *backend.Error
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, code, rej.Code)
	return rej
}

func TestCreateCase(t *testing.T) {
	svc, repo, bus := newTestService()
	ctx := context.Background()

	c, err := svc.CreateCase(ctx, "u1", backend.CreateCaseInput{Title: "New", Flow: []model.DepartmentID{1, 2}})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, model.StatusInProgress, c.Status)
	assert.Equal(t, model.PriorityMedium, c.Priority)
	assert.Equal(t, "u1", c.CreatedBy)
	assert.Contains(t, repo.cases, c.ID)
	assert.Equal(t, []string{"insert:cases"}, bus.tables())

	_, err = svc.CreateCase(ctx, "u1", backend.CreateCaseInput{Title: "Empty"})
	requireRejected(t, err, backend.CodeInvalid)

	_, err = svc.CreateCase(ctx, "u1", backend.CreateCaseInput{Title: "Dup", Flow: []model.DepartmentID{1, 1}})
	rej := requireRejected(t, err, backend.CodeInvalid)
	assert.Contains(t, rej.Message, "appears twice")
}

func TestCreateCase_FromTemplate(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.templates["tpl"] = model.Template{
		ID:          "tpl",
		Flow:        []model.DepartmentID{2, 3},
		Independent: true,
		Questions:   map[model.DepartmentID][]model.Question{2: {{ID: "q", Label: "Q", Type: model.QuestionText}}},
	}

	c, err := svc.CreateCase(context.Background(), "u1", backend.CreateCaseInput{Title: "T", TemplateID: "tpl"})
	require.NoError(t, err)
	assert.Equal(t, []model.DepartmentID{2, 3}, c.Flow)
	assert.True(t, c.Independent)
	assert.Len(t, c.Questions[2], 1)

	_, err = svc.CreateCase(context.Background(), "u1", backend.CreateCaseInput{Title: "T", TemplateID: "missing"})
	requireRejected(t, err, backend.CodeInvalid)
}

func TestAdvanceCase_Gated(t *testing.T) {
	svc, repo, bus := newTestService(sequential("c1"))
	ctx := context.Background()

	_, err := svc.AdvanceCase(ctx, "u1", "c1")
	rej := requireRejected(t, err, backend.CodeRequirements)
	assert.Equal(t, "requirements unmet: Sales: Signed order", rej.Message)
	assert.Empty(t, bus.tables())

	repo.docs = append(repo.docs, model.Document{ID: "d1", CaseID: "c1", DepartmentID: 1, Requirement: "Signed order"})
	c, err := svc.AdvanceCase(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.CurrentIndex)
	assert.Equal(t, 33, c.Progress)
	require.Len(t, c.History, 1)
	assert.Equal(t, model.TransitionAdvance, c.History[0].Kind)

	stored := repo.cases["c1"]
	assert.Equal(t, 1, stored.CurrentIndex)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, []string{"update:cases", "insert:history", "insert:notifications"}, bus.tables())
	require.Len(t, repo.notifications, 1)
	assert.Equal(t, "creator", repo.notifications[0].ActorID)
}

func TestAdvanceCase_Preconditions(t *testing.T) {
	last := sequential("last")
	last.CurrentIndex = 2
	paused := sequential("paused")
	paused.Status = model.StatusPaused
	svc, _, _ := newTestService(last, paused, independent("ind"))
	ctx := context.Background()

	_, err := svc.AdvanceCase(ctx, "u1", "last")
	requireRejected(t, err, backend.CodeConflict)
	_, err = svc.AdvanceCase(ctx, "u1", "paused")
	requireRejected(t, err, backend.CodeConflict)
	_, err = svc.AdvanceCase(ctx, "u1", "ind")
	requireRejected(t, err, backend.CodeInvalid)
	_, err = svc.AdvanceCase(ctx, "u1", "ghost")
	requireRejected(t, err, backend.CodeNotFound)
}

func TestAdvanceCase_ConcurrentWriteConflicts(t *testing.T) {
	c := sequential("c1")
	c.Flow = []model.DepartmentID{2, 3}
	svc, repo, bus := newTestService(c)
	svc.repo = conflictingRepo{repo}

	_, err := svc.AdvanceCase(context.Background(), "u1", "c1")
	rej := requireRejected(t, err, backend.CodeConflict)
	assert.True(t, strings.HasPrefix(rej.Message, "Case was modified"))
	assert.Empty(t, bus.tables())
}

func TestRevertCase(t *testing.T) {
	c := sequential("c1")
	c.CurrentIndex = 2
	svc, _, _ := newTestService(c, sequential("first"))
	ctx := context.Background()

	out, err := svc.RevertCase(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.CurrentIndex)
	assert.Equal(t, model.TransitionRevert, out.History[0].Kind)
	assert.Equal(t, model.DepartmentID(3), out.History[0].From)

	_, err = svc.RevertCase(ctx, "u1", "first")
	requireRejected(t, err, backend.CodeConflict)
}

func TestSetChecklistEntry(t *testing.T) {
	svc, repo, _ := newTestService(independent("c1"))
	ctx := context.Background()

	// Finance cannot complete before Sales.
	_, err := svc.SetChecklistEntry(ctx, "u1", "c1", 2, true)
	requireRejected(t, err, backend.CodeConflict)

	_, err = svc.SetChecklistEntry(ctx, "u1", "c1", 1, true)
	requireRejected(t, err, backend.CodeRequirements)

	repo.docs = append(repo.docs, model.Document{ID: "d1", CaseID: "c1", DepartmentID: 1, Requirement: "Signed order"})
	c, err := svc.SetChecklistEntry(ctx, "u1", "c1", 1, true)
	require.NoError(t, err)
	assert.True(t, c.DepartmentComplete(1))
	assert.Equal(t, 33, c.Progress)

	again, err := svc.SetChecklistEntry(ctx, "u1", "c1", 1, true)
	require.NoError(t, err)
	assert.Len(t, again.History, 1, "completing twice is a no-op")

	_, err = svc.SetChecklistEntry(ctx, "u1", "c1", 2, true)
	require.NoError(t, err)
	c, err = svc.SetChecklistEntry(ctx, "u1", "c1", 3, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, c.Status)
	assert.Equal(t, 100, c.Progress)
	require.NotNil(t, c.FinishedAt)

	_, err = svc.SetChecklistEntry(ctx, "u1", "c1", 3, false)
	requireRejected(t, err, backend.CodeConflict)
}

func TestSetChecklistEntry_Uncomplete(t *testing.T) {
	c := independent("c1")
	c.Checklist = map[model.DepartmentID]model.ChecklistEntry{1: {Completed: true}}
	svc, _, _ := newTestService(c)

	out, err := svc.SetChecklistEntry(context.Background(), "u1", "c1", 1, false)
	require.NoError(t, err)
	assert.False(t, out.DepartmentComplete(1))
	assert.Equal(t, 0, out.Progress)
}

func TestUpdateCase_FinishGated(t *testing.T) {
	c := independent("c1")
	c.Questions = map[model.DepartmentID][]model.Question{
		3: {{ID: "track", Label: "Tracking code", Type: model.QuestionText, Required: true}},
	}
	svc, repo, _ := newTestService(c)
	ctx := context.Background()
	finished := model.StatusFinished

	_, err := svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{Status: &finished})
	rej := requireRejected(t, err, backend.CodeRequirements)
	assert.Equal(t, "requirements unmet: Sales: Signed order; Shipping: Tracking code", rej.Message)

	repo.docs = append(repo.docs, model.Document{ID: "d1", CaseID: "c1", DepartmentID: 1, Requirement: "Signed order"})
	out, err := svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{
		Status:  &finished,
		Answers: map[model.DepartmentID]map[string]any{3: {"track": "BR123"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, out.Status)
	assert.True(t, out.AllDepartmentsComplete())
}

func TestUpdateCase_AnswersValidatedAndMerged(t *testing.T) {
	c := sequential("c1")
	c.Questions = map[model.DepartmentID][]model.Question{
		1: {
			{ID: "mail", Label: "E-mail", Type: model.QuestionEmail},
			{ID: "note", Label: "Note", Type: model.QuestionText},
		},
	}
	c.Answers = map[model.DepartmentID]map[string]any{1: {"note": "keep"}}
	svc, repo, _ := newTestService(c)
	ctx := context.Background()

	_, err := svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{
		Answers: map[model.DepartmentID]map[string]any{1: {"mail": "nope"}},
	})
	requireRejected(t, err, backend.CodeInvalid)
	assert.Equal(t, map[string]any{"note": "keep"}, repo.cases["c1"].Answers[1])

	out, err := svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{
		Answers: map[model.DepartmentID]map[string]any{1: {"mail": "a@b.io"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"note": "keep", "mail": "a@b.io"}, out.Answers[1])

	_, err = svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{
		Answers: map[model.DepartmentID]map[string]any{9: {"x": "y"}},
	})
	requireRejected(t, err, backend.CodeInvalid)
}

func TestUpdateCase_StatusTransitions(t *testing.T) {
	svc, _, _ := newTestService(sequential("c1"))
	ctx := context.Background()
	paused, resumed, bogus := model.StatusPaused, model.StatusInProgress, model.CaseStatus("archived")

	out, err := svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{Status: &paused})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, out.Status)

	out, err = svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{Status: &resumed})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, out.Status)

	_, err = svc.UpdateCase(ctx, "u1", "c1", backend.CaseUpdate{Status: &bogus})
	requireRejected(t, err, backend.CodeInvalid)
}

func TestDeleteAndRestore(t *testing.T) {
	svc, repo, bus := newTestService(sequential("c1"))
	jobs := &mockJobs{}
	svc.SetJobClient(jobs)
	ctx := context.Background()

	require.NoError(t, svc.DeleteCase(ctx, "u1", "c1", "duplicate"))
	assert.NotContains(t, repo.cases, "c1")
	assert.Equal(t, time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC), jobs.scheduled["c1"])

	trash, err := svc.ListTrash(ctx)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, "duplicate", trash[0].Reason)

	c, err := svc.RestoreCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, []string{"delete:cases", "insert:cases"}, bus.tables())

	_, err = svc.RestoreCase(ctx, "c1")
	requireRejected(t, err, backend.CodeNotFound)
	requireRejected(t, svc.DeleteCase(ctx, "u1", "ghost", ""), backend.CodeNotFound)
}

func TestUploadDocument(t *testing.T) {
	svc, repo, bus := newTestService(sequential("c1"))
	files := &memStorage{}
	policy := storage.DefaultPolicy()
	policy.MaxFileMB = 0.001
	svc.SetStorage(files, policy)
	ctx := context.Background()

	doc, err := svc.UploadDocument(ctx, "u1", "c1", backend.Upload{
		DepartmentID: 1,
		Requirement:  "Signed order",
		Name:         "../order.pdf",
		MIME:         "application/pdf",
		Size:         5,
		Body:         strings.NewReader("%PDF-"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), doc.Size)
	assert.Equal(t, "u1", doc.UploadedBy)
	assert.Equal(t, "http://files.test/c1/"+doc.ID+"-order.pdf", doc.URL)
	assert.Len(t, repo.docs, 1)
	assert.Equal(t, []string{"insert:documents"}, bus.tables())

	c, err := svc.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.AttachmentCounts[1].ByRequirement["Signed order"])

	_, err = svc.UploadDocument(ctx, "u1", "c1", backend.Upload{
		DepartmentID: 1, Name: "a.exe", MIME: "application/x-msdownload", Size: 1, Body: strings.NewReader("x"),
	})
	requireRejected(t, err, backend.CodeInvalid)

	_, err = svc.UploadDocument(ctx, "u1", "c1", backend.Upload{
		DepartmentID: 1, Name: "big.pdf", MIME: "application/pdf", Body: strings.NewReader(strings.Repeat("x", 4096)),
	})
	requireRejected(t, err, backend.CodeInvalid)
	assert.Len(t, files.files, 1, "oversized body is removed again")

	_, err = svc.UploadDocument(ctx, "u1", "c1", backend.Upload{
		DepartmentID: 7, Name: "a.pdf", MIME: "application/pdf", Body: strings.NewReader("x"),
	})
	requireRejected(t, err, backend.CodeInvalid)

	require.NoError(t, svc.DeleteDocument(ctx, doc.ID))
	assert.Empty(t, repo.docs)
	assert.Empty(t, files.files)
	requireRejected(t, svc.DeleteDocument(ctx, doc.ID), backend.CodeNotFound)
}

func TestAddComment_NotifiesCreator(t *testing.T) {
	svc, repo, bus := newTestService(sequential("c1"))
	ctx := context.Background()

	_, err := svc.AddComment(ctx, "u1", "c1", "   ", nil)
	requireRejected(t, err, backend.CodeInvalid)

	cm, err := svc.AddComment(ctx, "u1", "c1", " looks good ", nil)
	require.NoError(t, err)
	assert.Equal(t, "looks good", cm.Body)
	assert.Equal(t, []string{"insert:comments", "insert:notifications"}, bus.tables())
	assert.Equal(t, "creator", bus.events[1].filter)

	// The creator commenting on their own case is not notified.
	_, err = svc.AddComment(ctx, "creator", "c1", "reply", &cm.ID)
	require.NoError(t, err)
	assert.Len(t, repo.notifications, 1)

	items, err := svc.ListNotifications(ctx, "creator")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, svc.MarkNotificationRead(ctx, "creator", items[0].ID))
	assert.True(t, repo.notifications[0].Read)
	requireRejected(t, svc.MarkNotificationRead(ctx, "u1", items[0].ID), backend.CodeNotFound)
}
