// Package flow owns case progression: the sequential current-department
// pointer and the independent-mode completion checklist.
package flow

import (
	"context"
	"fmt"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/gate"
	"caseflow/internal/model"
	"caseflow/internal/schema"
	"caseflow/internal/store"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Departments resolves department reference data
type Departments interface {
	Department(id model.DepartmentID) (model.Department, bool)
}

type Engine struct {
	store       *store.Store
	backend     backend.Mutations
	attachments backend.Attachments
	departments Departments
	answers     *schema.Compiler
	session     backend.Session
	log         *zap.Logger
	now         func() time.Time
}

func NewEngine(st *store.Store, mutations backend.Mutations, departments Departments, answers *schema.Compiler, log *zap.Logger) *Engine {
	return &Engine{
		store:       st,
		backend:     mutations,
		departments: departments,
		answers:     answers,
		log:         log,
		now:         time.Now,
	}
}

// SetAttachments sets the blob store used for documents
func (e *Engine) SetAttachments(a backend.Attachments) {
	e.attachments = a
}

// SetSession sets the actor recorded on flow transitions
func (e *Engine) SetSession(s backend.Session) {
	e.session = s
}

// SetClock overrides time.Now
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) actorID() string {
	if e.session == nil {
		return ""
	}
	return e.session.Actor().ID
}

func (e *Engine) department(id model.DepartmentID) model.Department {
	if e.departments != nil {
		if d, ok := e.departments.Department(id); ok {
			return d
		}
	}
	return model.Department{ID: id}
}

func (e *Engine) get(id string) (model.Case, error) {
	c, ok := e.store.Get(id)
	if !ok {
		return model.Case{}, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	}
	return c, nil
}

// Missing runs the gate for one department of a case without side effects
func (e *Engine) Missing(caseID string, dept model.DepartmentID) ([]gate.MissingItem, error) {
	c, err := e.get(caseID)
	if err != nil {
		return nil, err
	}
	if c.FlowIndex(dept) < 0 {
		return nil, ErrDepartmentNotInFlow
	}
	return gate.MissingRequirements(gate.ForCase(&c, e.department(dept))), nil
}

func (e *Engine) check(c *model.Case, depts ...model.DepartmentID) *RequirementsUnmetError {
	var groups []DepartmentMissing
	for _, id := range depts {
		d := e.department(id)
		if missing := gate.MissingRequirements(gate.ForCase(c, d)); len(missing) > 0 {
			groups = append(groups, DepartmentMissing{Department: d, Items: missing})
		}
	}
	if len(groups) == 0 {
		return nil
	}
	return &RequirementsUnmetError{CaseID: c.ID, Groups: groups}
}

// copyProgression moves the fields flow operations change from src to dst
func copyProgression(dst *model.Case, src model.Case) {
	dst.Status = src.Status
	dst.CurrentIndex = src.CurrentIndex
	dst.Progress = src.Progress
	dst.FinishedAt = src.FinishedAt
	dst.Checklist = src.Clone().Checklist
	dst.History = append([]model.Transition(nil), src.History...)
}

// commit applies an optimistic change, calls the backend and reconciles the
// store with its answer. A failed call restores the previous progression and
// returns the backend error untouched, unless it also returns the case as
// the backend left it after a partial write; that state is kept instead.
func (e *Engine) commit(prev model.Case, apply func(*model.Case), call func() (model.Case, error)) error {
	if err := e.store.Patch(prev.ID, apply); err != nil {
		return fmt.Errorf("%w: %s", ErrCaseNotFound, prev.ID)
	}
	srv, err := call()
	if err != nil {
		e.log.Warn("Backend rejected case mutation", zap.String("case_id", prev.ID), zap.Error(err))
		restore := prev
		if srv.ID == prev.ID {
			restore = srv
			if len(srv.History) == 0 {
				restore.History = prev.History
			}
		}
		_ = e.store.Patch(prev.ID, func(c *model.Case) { copyProgression(c, restore) })
		return err
	}
	if srv.ID == prev.ID {
		_ = e.store.Patch(prev.ID, func(c *model.Case) {
			history := c.History
			copyProgression(c, srv)
			if len(srv.History) == 0 {
				c.History = history
			}
		})
	}
	return nil
}

func (e *Engine) transition(kind model.TransitionKind, from, to model.DepartmentID) model.Transition {
	return model.Transition{Kind: kind, From: from, To: to, ActorID: e.actorID(), At: e.now()}
}

// Create inserts a pending local record, asks the backend to create the case
// and swaps the pending record for the confirmed one
func (e *Engine) Create(ctx context.Context, in backend.CreateCaseInput) (model.Case, error) {
	if len(in.Flow) == 0 {
		return model.Case{}, ErrEmptyFlow
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}

	pending := model.Case{
		ID:          "local-" + ulid.Make().String(),
		Title:       in.Title,
		CompanyID:   in.CompanyID,
		TemplateID:  in.TemplateID,
		Status:      model.StatusDraft,
		Priority:    in.Priority,
		Flow:        append([]model.DepartmentID(nil), in.Flow...),
		Independent: in.Independent,
		Questions:   in.Questions,
		Labels:      in.Labels,
		CreatedBy:   e.actorID(),
		CreatedAt:   e.now(),
		State:       model.RecordPending,
	}
	e.store.Put(pending)

	srv, err := e.backend.CreateCase(ctx, in)
	if err != nil {
		e.store.Remove(pending.ID)
		return model.Case{}, err
	}
	if srv.Status == "" || srv.Status == model.StatusDraft {
		srv.Status = model.StatusInProgress
	}
	srv.State = model.RecordConfirmed
	e.store.Rekey(pending.ID, srv)

	e.log.Info("Case created", zap.String("case_id", srv.ID), zap.Bool("independent", srv.Independent))
	return srv, nil
}
