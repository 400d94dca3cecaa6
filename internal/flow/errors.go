package flow

import (
	"errors"
	"fmt"
	"strings"

	"caseflow/internal/backend"
	"caseflow/internal/gate"
	"caseflow/internal/model"
)

// Precondition failures. None of them reach the backend.
var (
	ErrCaseNotFound          = errors.New("case not found")
	ErrNotInProgress         = errors.New("case is not in progress")
	ErrTerminal              = errors.New("case is finished or cancelled")
	ErrSequentialOnly        = errors.New("operation requires a sequential flow")
	ErrIndependentOnly       = errors.New("operation requires an independent flow")
	ErrLastDepartment        = errors.New("case is already in the last department")
	ErrFirstDepartment       = errors.New("case is already in the first department")
	ErrNotLastDepartment     = errors.New("case is not in the last department")
	ErrDepartmentNotInFlow   = errors.New("department is not part of the case flow")
	ErrPredecessorIncomplete = errors.New("previous department has not completed")
	ErrNotConfirmed          = errors.New("operation requires explicit confirmation")
	ErrEmptyFlow             = errors.New("flow must contain at least one department")
	ErrUnknownQuestion       = errors.New("question does not belong to the department")
	ErrInvalidTransition     = errors.New("status transition not allowed")
)

// DepartmentMissing groups unmet items of one department
type DepartmentMissing struct {
	Department model.Department
	Items      []gate.MissingItem
}

// RequirementsUnmetError blocks a transition until the listed data is supplied.
// It is always locally recoverable and never retried.
type RequirementsUnmetError struct {
	CaseID string
	Groups []DepartmentMissing
}

func (e *RequirementsUnmetError) Error() string {
	parts := make([]string, 0, len(e.Groups))
	for _, g := range e.Groups {
		name := g.Department.Name
		if name == "" {
			name = "department " + g.Department.ID.String()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(labels(g.Items), ", ")))
	}
	return "requirements unmet: " + strings.Join(parts, "; ")
}

// Labels returns every missing label across departments, in order
func (e *RequirementsUnmetError) Labels() []string {
	var out []string
	for _, g := range e.Groups {
		out = append(out, labels(g.Items)...)
	}
	return out
}

func labels(items []gate.MissingItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Label
	}
	return out
}

// IsRequirementsUnmet unwraps a RequirementsUnmetError
func IsRequirementsUnmet(err error) (*RequirementsUnmetError, bool) {
	var target *RequirementsUnmetError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsRejected unwraps a backend rejection
func IsRejected(err error) (*backend.Error, bool) {
	var target *backend.Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
