package flow

import (
	"context"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/model"

	"go.uber.org/zap"
)

func finishUpdate(at time.Time) backend.CaseUpdate {
	status := model.StatusFinished
	progress := 100
	return backend.CaseUpdate{Status: &status, Progress: &progress, FinishedAt: &at}
}

// Pause parks an in-progress case
func (e *Engine) Pause(ctx context.Context, caseID string) error {
	return e.setStatus(ctx, caseID, model.StatusPaused, model.StatusInProgress)
}

// Resume returns a paused case to progress
func (e *Engine) Resume(ctx context.Context, caseID string) error {
	return e.setStatus(ctx, caseID, model.StatusInProgress, model.StatusPaused)
}

// Cancel terminates a case that is not already terminal
func (e *Engine) Cancel(ctx context.Context, caseID string) error {
	return e.setStatus(ctx, caseID, model.StatusCancelled, model.StatusInProgress, model.StatusPaused, model.StatusDraft)
}

func (e *Engine) setStatus(ctx context.Context, caseID string, to model.CaseStatus, from ...model.CaseStatus) error {
	c, err := e.get(caseID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return ErrTerminal
	}
	allowed := false
	for _, s := range from {
		if c.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	err = e.commit(c, func(cur *model.Case) {
		cur.Status = to
	}, func() (model.Case, error) {
		return e.backend.UpdateCase(ctx, caseID, backend.CaseUpdate{Status: &to})
	})
	if err != nil {
		return err
	}
	e.log.Info("Case status changed", zap.String("case_id", caseID), zap.String("status", string(to)))
	return nil
}

// Delete moves a case to the backend trash and drops it from the store.
// Retention is tracked by the backend.
func (e *Engine) Delete(ctx context.Context, caseID, reason string) error {
	c, err := e.get(caseID)
	if err != nil {
		return err
	}
	if c.State == model.RecordPending {
		e.store.Remove(caseID)
		return nil
	}
	if err := e.backend.DeleteCase(ctx, caseID, reason); err != nil {
		return err
	}
	e.store.Remove(caseID)
	e.log.Info("Case deleted", zap.String("case_id", caseID), zap.String("reason", reason))
	return nil
}

// BatchResult counts the outcome of a best-effort batch
type BatchResult struct {
	Restored int
	Failed   int
}

// RestoreMany restores trashed cases one by one; a failure is counted and
// does not stop the rest of the batch
func (e *Engine) RestoreMany(ctx context.Context, ids []string) BatchResult {
	var res BatchResult
	for _, id := range ids {
		srv, err := e.backend.RestoreCase(ctx, id)
		if err != nil {
			res.Failed++
			e.log.Warn("Failed to restore case", zap.String("case_id", id), zap.Error(err))
			continue
		}
		srv.State = model.RecordConfirmed
		e.store.Put(srv)
		res.Restored++
	}
	return res
}
