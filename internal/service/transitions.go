package service

import (
	"context"
	"fmt"

	"caseflow/internal/backend"
	"caseflow/internal/flow"
	"caseflow/internal/gate"
	"caseflow/internal/model"

	"go.uber.org/zap"
)

func (s *CaseService) departments(ctx context.Context) (map[model.DepartmentID]model.Department, error) {
	list, err := s.repo.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	out := make(map[model.DepartmentID]model.Department, len(list))
	for _, d := range list {
		out[d.ID] = d
	}
	return out, nil
}

// gateCheck runs the department gate for each department and turns any
// unmet items into a requirements_unmet rejection
func (s *CaseService) gateCheck(ctx context.Context, c *model.Case, ids ...model.DepartmentID) error {
	depts, err := s.departments(ctx)
	if err != nil {
		return err
	}
	unmet := &flow.RequirementsUnmetError{CaseID: c.ID}
	for _, id := range ids {
		d, ok := depts[id]
		if !ok {
			d = model.Department{ID: id}
		}
		if missing := gate.MissingRequirements(gate.ForCase(c, d)); len(missing) > 0 {
			unmet.Groups = append(unmet.Groups, flow.DepartmentMissing{Department: d, Items: missing})
		}
	}
	if len(unmet.Groups) == 0 {
		return nil
	}
	return rejected(backend.CodeRequirements, "%s", unmet.Error())
}

func (s *CaseService) record(c *model.Case, actorID string, kind model.TransitionKind, from, to model.DepartmentID) {
	c.History = append(c.History, model.Transition{Kind: kind, From: from, To: to, ActorID: actorID, At: s.now().UTC()})
}

// publishHistory announces the transitions appended after index since
func (s *CaseService) publishHistory(ctx context.Context, c model.Case, since int) {
	for i := since; i < len(c.History); i++ {
		s.publish(ctx, "history", backend.EventInsert, map[string]interface{}{
			"id":         fmt.Sprintf("%s:%d", c.ID, i),
			"caseId":     c.ID,
			"transition": c.History[i],
		}, "")
	}
}

func requireSequential(c *model.Case) error {
	if c.Status != model.StatusInProgress {
		return rejected(backend.CodeConflict, "Case is %s", c.Status)
	}
	if c.Independent {
		return rejected(backend.CodeInvalid, "Case uses an independent flow")
	}
	if _, ok := c.CurrentDepartment(); !ok {
		return rejected(backend.CodeInvalid, "Case has no current department")
	}
	return nil
}

// AdvanceCase moves a sequential case past its current department
func (s *CaseService) AdvanceCase(ctx context.Context, actorID, id string) (model.Case, error) {
	c, version, err := s.load(ctx, id)
	if err != nil {
		return model.Case{}, err
	}
	if err := requireSequential(&c); err != nil {
		return model.Case{}, err
	}
	if c.IsLastDepartment() {
		return model.Case{}, rejected(backend.CodeConflict, "Case is already in its last department")
	}
	from := c.Flow[c.CurrentIndex]
	if err := s.gateCheck(ctx, &c, from); err != nil {
		return model.Case{}, err
	}

	since := len(c.History)
	c.CurrentIndex++
	c.Progress = c.ComputeProgress()
	to := c.Flow[c.CurrentIndex]
	s.record(&c, actorID, model.TransitionAdvance, from, to)
	if err := s.save(ctx, c, version); err != nil {
		return model.Case{}, err
	}
	s.publish(ctx, "cases", backend.EventUpdate, c, "")
	s.publishHistory(ctx, c, since)

	if c.CreatedBy != "" && c.CreatedBy != actorID {
		s.notify(ctx, c.CreatedBy, "case.advanced", fmt.Sprintf("%s moved to department %s", c.Title, to), c.ID)
	}
	s.log.Info("Case advanced", zap.String("case_id", id), zap.Stringer("from", from), zap.Stringer("to", to))
	return c, nil
}

// RevertCase moves a sequential case back one department
func (s *CaseService) RevertCase(ctx context.Context, actorID, id string) (model.Case, error) {
	c, version, err := s.load(ctx, id)
	if err != nil {
		return model.Case{}, err
	}
	if err := requireSequential(&c); err != nil {
		return model.Case{}, err
	}
	if c.CurrentIndex == 0 {
		return model.Case{}, rejected(backend.CodeConflict, "Case is already in its first department")
	}
	since := len(c.History)
	from := c.Flow[c.CurrentIndex]
	c.CurrentIndex--
	c.Progress = c.ComputeProgress()
	to := c.Flow[c.CurrentIndex]
	s.record(&c, actorID, model.TransitionRevert, from, to)
	if err := s.save(ctx, c, version); err != nil {
		return model.Case{}, err
	}
	s.publish(ctx, "cases", backend.EventUpdate, c, "")
	s.publishHistory(ctx, c, since)
	return c, nil
}

// SetChecklistEntry completes or reopens one department of an independent
// case. Completing the last open department finishes the case.
func (s *CaseService) SetChecklistEntry(ctx context.Context, actorID, caseID string, dept model.DepartmentID, completed bool) (model.Case, error) {
	c, version, err := s.load(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	if c.Status != model.StatusInProgress {
		return model.Case{}, rejected(backend.CodeConflict, "Case is %s", c.Status)
	}
	if !c.Independent {
		return model.Case{}, rejected(backend.CodeInvalid, "Case uses a sequential flow")
	}
	idx := c.FlowIndex(dept)
	if idx < 0 {
		return model.Case{}, rejected(backend.CodeInvalid, "Department %s is not part of this case", dept)
	}
	if c.DepartmentComplete(dept) == completed {
		return c, nil
	}

	since := len(c.History)
	now := s.now().UTC()
	if c.Checklist == nil {
		c.Checklist = make(map[model.DepartmentID]model.ChecklistEntry)
	}
	if completed {
		if idx > 0 && !c.DepartmentComplete(c.Flow[idx-1]) {
			return model.Case{}, rejected(backend.CodeConflict, "Department %s must complete before %s", c.Flow[idx-1], dept)
		}
		if err := s.gateCheck(ctx, &c, dept); err != nil {
			return model.Case{}, err
		}
		c.Checklist[dept] = model.ChecklistEntry{Completed: true, CompletedAt: &now}
		s.record(&c, actorID, model.TransitionComplete, dept, 0)
	} else {
		delete(c.Checklist, dept)
	}

	if completed && c.AllDepartmentsComplete() {
		c.Status = model.StatusFinished
		c.FinishedAt = &now
		s.record(&c, actorID, model.TransitionFinish, dept, 0)
	}
	c.Progress = c.ComputeProgress()
	if err := s.save(ctx, c, version); err != nil {
		return model.Case{}, err
	}
	s.publish(ctx, "cases", backend.EventUpdate, c, "")
	s.publishHistory(ctx, c, since)
	return c, nil
}

// finish gates an explicit finish. Sequential cases must sit in their last
// department; independent cases re-validate every department and close any
// still open.
func (s *CaseService) finish(ctx context.Context, actorID string, c *model.Case) error {
	if c.Status != model.StatusInProgress {
		return rejected(backend.CodeConflict, "Case is %s", c.Status)
	}
	if len(c.Flow) == 0 {
		return rejected(backend.CodeInvalid, "Case has no departments")
	}
	now := s.now().UTC()
	last := c.Flow[len(c.Flow)-1]
	if c.Independent {
		if err := s.gateCheck(ctx, c, c.Flow...); err != nil {
			return err
		}
		if c.Checklist == nil {
			c.Checklist = make(map[model.DepartmentID]model.ChecklistEntry)
		}
		for _, d := range c.Flow {
			if !c.DepartmentComplete(d) {
				c.Checklist[d] = model.ChecklistEntry{Completed: true, CompletedAt: &now}
			}
		}
	} else {
		if !c.IsLastDepartment() {
			return rejected(backend.CodeConflict, "Case is not in its last department")
		}
		if err := s.gateCheck(ctx, c, last); err != nil {
			return err
		}
	}
	c.Status = model.StatusFinished
	c.FinishedAt = &now
	c.Progress = 100
	s.record(c, actorID, model.TransitionFinish, last, 0)
	return nil
}
