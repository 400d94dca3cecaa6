package flow

import (
	"context"
	"errors"
	"fmt"

	"caseflow/internal/backend"
	"caseflow/internal/model"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var errNoAttachments = errors.New("attachment store not configured")

// SubmitAnswers stores answers for one department. Answers are format
// checked first; a rejected update restores the previous answers.
func (e *Engine) SubmitAnswers(ctx context.Context, caseID string, dept model.DepartmentID, answers map[string]any) error {
	c, err := e.get(caseID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return ErrTerminal
	}
	if c.FlowIndex(dept) < 0 {
		return ErrDepartmentNotInFlow
	}
	if e.answers != nil {
		if err := e.answers.ValidateAnswers(ctx, dept, c.Questions[dept], answers); err != nil {
			return err
		}
	}

	previous := c.Answers[dept]
	err = e.store.Patch(caseID, func(cur *model.Case) {
		if cur.Answers == nil {
			cur.Answers = make(map[model.DepartmentID]map[string]any)
		}
		merged := make(map[string]any, len(cur.Answers[dept])+len(answers))
		for k, v := range cur.Answers[dept] {
			merged[k] = v
		}
		for k, v := range answers {
			merged[k] = v
		}
		cur.Answers[dept] = merged
	})
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}

	_, err = e.backend.UpdateCase(ctx, caseID, backend.CaseUpdate{
		Answers: map[model.DepartmentID]map[string]any{dept: answers},
	})
	if err != nil {
		e.log.Warn("Backend rejected answers", zap.String("case_id", caseID), zap.Error(err))
		_ = e.store.Patch(caseID, func(cur *model.Case) {
			if previous == nil {
				delete(cur.Answers, dept)
				return
			}
			cur.Answers[dept] = previous
		})
		return err
	}
	return nil
}

// AttachDocument uploads a file. The document is visible immediately in
// pending state and becomes confirmed once the upload succeeds.
func (e *Engine) AttachDocument(ctx context.Context, caseID string, up backend.Upload) (model.Document, error) {
	if e.attachments == nil {
		return model.Document{}, errNoAttachments
	}
	c, err := e.get(caseID)
	if err != nil {
		return model.Document{}, err
	}
	if c.FlowIndex(up.DepartmentID) < 0 {
		return model.Document{}, ErrDepartmentNotInFlow
	}
	if up.QuestionID != "" && !hasQuestion(c.Questions[up.DepartmentID], up.QuestionID) {
		return model.Document{}, ErrUnknownQuestion
	}

	now := e.now()
	pending := model.Document{
		ID:           "local-" + ulid.Make().String(),
		CaseID:       caseID,
		DepartmentID: up.DepartmentID,
		QuestionID:   up.QuestionID,
		Requirement:  up.Requirement,
		Name:         up.Name,
		Size:         up.Size,
		MIME:         up.MIME,
		UploadedBy:   e.actorID(),
		UploadedAt:   &now,
		State:        model.RecordPending,
	}
	if err := e.store.Patch(caseID, func(cur *model.Case) {
		cur.Documents = append(cur.Documents, pending)
	}); err != nil {
		return model.Document{}, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}

	doc, err := e.attachments.Upload(ctx, caseID, up)
	if err != nil {
		_ = e.store.Patch(caseID, func(cur *model.Case) { removeDocument(cur, pending.ID) })
		return model.Document{}, err
	}
	doc.State = model.RecordConfirmed
	_ = e.store.Patch(caseID, func(cur *model.Case) {
		for i := range cur.Documents {
			if cur.Documents[i].ID == pending.ID {
				cur.Documents[i] = doc
				return
			}
		}
		cur.Documents = append(cur.Documents, doc)
	})
	e.store.MarkDetailAuthoritative()

	e.log.Info("Document attached",
		zap.String("case_id", caseID),
		zap.String("document_id", doc.ID),
		zap.Stringer("department", up.DepartmentID),
	)
	return doc, nil
}

// RemoveDocument deletes a document from the blob store and the case
func (e *Engine) RemoveDocument(ctx context.Context, caseID, documentID string) error {
	if e.attachments == nil {
		return errNoAttachments
	}
	if _, err := e.get(caseID); err != nil {
		return err
	}
	if err := e.attachments.Delete(ctx, documentID); err != nil {
		return err
	}
	_ = e.store.Patch(caseID, func(cur *model.Case) { removeDocument(cur, documentID) })
	e.store.MarkDetailAuthoritative()
	return nil
}

func removeDocument(c *model.Case, id string) {
	docs := c.Documents[:0]
	for _, d := range c.Documents {
		if d.ID != id {
			docs = append(docs, d)
		}
	}
	c.Documents = docs
}

func hasQuestion(qs []model.Question, id string) bool {
	for _, q := range qs {
		if q.ID == id {
			return true
		}
	}
	return false
}
