package flow

import (
	"context"
	"fmt"

	"caseflow/internal/model"

	"go.uber.org/zap"
)

// Advance moves a sequential case to its next department once the current
// department's requirements are met. Every call re-validates whatever
// department is current at that moment.
func (e *Engine) Advance(ctx context.Context, caseID string) error {
	c, err := e.get(caseID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusInProgress {
		return ErrNotInProgress
	}
	if c.Independent {
		return ErrSequentialOnly
	}
	from, ok := c.CurrentDepartment()
	if !ok {
		return ErrEmptyFlow
	}
	if c.IsLastDepartment() {
		return ErrLastDepartment
	}
	if unmet := e.check(&c, from); unmet != nil {
		return unmet
	}
	to := c.Flow[c.CurrentIndex+1]

	err = e.commit(c, func(cur *model.Case) {
		cur.CurrentIndex = c.CurrentIndex + 1
		cur.History = append(cur.History, e.transition(model.TransitionAdvance, from, to))
		cur.Progress = cur.ComputeProgress()
	}, func() (model.Case, error) {
		return e.backend.AdvanceCase(ctx, caseID)
	})
	if err != nil {
		return err
	}
	e.log.Info("Case advanced", zap.String("case_id", caseID), zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}

// Revert moves a sequential case back one department. The caller must have
// obtained an explicit yes from the user.
func (e *Engine) Revert(ctx context.Context, caseID string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	c, err := e.get(caseID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusInProgress {
		return ErrNotInProgress
	}
	if c.Independent {
		return ErrSequentialOnly
	}
	from, ok := c.CurrentDepartment()
	if !ok {
		return ErrEmptyFlow
	}
	if c.CurrentIndex == 0 {
		return ErrFirstDepartment
	}
	to := c.Flow[c.CurrentIndex-1]

	err = e.commit(c, func(cur *model.Case) {
		cur.CurrentIndex = c.CurrentIndex - 1
		cur.History = append(cur.History, e.transition(model.TransitionRevert, from, to))
		cur.Progress = cur.ComputeProgress()
	}, func() (model.Case, error) {
		return e.backend.RevertCase(ctx, caseID)
	})
	if err != nil {
		return err
	}
	e.log.Info("Case reverted", zap.String("case_id", caseID), zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}

// CompleteDepartment closes one department of an independent case. A
// department may only close after its predecessor in flow order. Closing the
// last open department finishes the case in the same call.
func (e *Engine) CompleteDepartment(ctx context.Context, caseID string, dept model.DepartmentID) error {
	c, err := e.get(caseID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusInProgress {
		return ErrNotInProgress
	}
	if !c.Independent {
		return ErrIndependentOnly
	}
	idx := c.FlowIndex(dept)
	if idx < 0 {
		return ErrDepartmentNotInFlow
	}
	if c.DepartmentComplete(dept) {
		return nil
	}
	if idx > 0 && !c.DepartmentComplete(c.Flow[idx-1]) {
		return fmt.Errorf("%w: department %s must complete before %s", ErrPredecessorIncomplete, c.Flow[idx-1], dept)
	}
	if unmet := e.check(&c, dept); unmet != nil {
		return unmet
	}

	finished := false
	err = e.commit(c, func(cur *model.Case) {
		now := e.now()
		if cur.Checklist == nil {
			cur.Checklist = make(map[model.DepartmentID]model.ChecklistEntry)
		}
		cur.Checklist[dept] = model.ChecklistEntry{Completed: true, CompletedAt: &now}
		cur.History = append(cur.History, e.transition(model.TransitionComplete, dept, 0))
		if cur.AllDepartmentsComplete() {
			finished = true
			cur.Status = model.StatusFinished
			cur.FinishedAt = &now
			cur.History = append(cur.History, e.transition(model.TransitionFinish, dept, 0))
		}
		cur.Progress = cur.ComputeProgress()
	}, func() (model.Case, error) {
		srv, err := e.backend.SetChecklistEntry(ctx, caseID, dept, true)
		if err != nil || !finished || srv.Status == model.StatusFinished {
			return srv, err
		}
		return e.backend.UpdateCase(ctx, caseID, finishUpdate(e.now()))
	})
	if err != nil {
		return err
	}
	e.log.Info("Department completed",
		zap.String("case_id", caseID),
		zap.Stringer("department", dept),
		zap.Bool("finished", finished),
	)
	return nil
}

// Finalize explicitly finishes a case. Sequential cases must sit in their
// last department and pass its gate; independent cases re-validate every
// flow department and report all failures together.
func (e *Engine) Finalize(ctx context.Context, caseID string) error {
	c, err := e.get(caseID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusInProgress {
		return ErrNotInProgress
	}
	if len(c.Flow) == 0 {
		return ErrEmptyFlow
	}

	if !c.Independent {
		if !c.IsLastDepartment() {
			return ErrNotLastDepartment
		}
		last := c.Flow[c.CurrentIndex]
		if unmet := e.check(&c, last); unmet != nil {
			return unmet
		}
		return e.finish(ctx, c, last, nil)
	}

	if unmet := e.check(&c, c.Flow...); unmet != nil {
		return unmet
	}
	var open []model.DepartmentID
	for _, d := range c.Flow {
		if !c.DepartmentComplete(d) {
			open = append(open, d)
		}
	}
	return e.finish(ctx, c, c.Flow[len(c.Flow)-1], open)
}

func (e *Engine) finish(ctx context.Context, c model.Case, at model.DepartmentID, open []model.DepartmentID) error {
	err := e.commit(c, func(cur *model.Case) {
		now := e.now()
		for _, d := range open {
			if cur.Checklist == nil {
				cur.Checklist = make(map[model.DepartmentID]model.ChecklistEntry)
			}
			cur.Checklist[d] = model.ChecklistEntry{Completed: true, CompletedAt: &now}
		}
		cur.Status = model.StatusFinished
		cur.FinishedAt = &now
		cur.Progress = 100
		cur.History = append(cur.History, e.transition(model.TransitionFinish, at, 0))
	}, func() (model.Case, error) {
		// srv tracks what the backend has accepted so far; on a later
		// failure it is returned with the error so completed entries stay
		var srv model.Case
		for _, d := range open {
			next, err := e.backend.SetChecklistEntry(ctx, c.ID, d, true)
			if err != nil {
				return srv, err
			}
			srv = next
		}
		if srv.Status == model.StatusFinished {
			return srv, nil
		}
		done, err := e.backend.UpdateCase(ctx, c.ID, finishUpdate(e.now()))
		if err != nil {
			return srv, err
		}
		return done, nil
	})
	if err != nil {
		return err
	}
	e.log.Info("Case finalized", zap.String("case_id", c.ID))
	return nil
}
