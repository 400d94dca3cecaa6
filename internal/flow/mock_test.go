package flow

import (
	"context"
	"io"
	"sync"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/model"
	"caseflow/internal/schema"
	"caseflow/internal/store"

	"go.uber.org/zap"
)

// MockBackend applies mutations to its own copy of each case the way the
// reference backend would, and records every call
type MockBackend struct {
	mu     sync.Mutex
	cases  map[string]model.Case
	calls  []string
	reject map[string]*backend.Error
	nextID int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{cases: make(map[string]model.Case), reject: make(map[string]*backend.Error)}
}

func (m *MockBackend) seed(c model.Case) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = c.Clone()
}

func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockBackend) record(op string) *backend.Error {
	m.calls = append(m.calls, op)
	return m.reject[op]
}

func (m *MockBackend) CreateCase(ctx context.Context, in backend.CreateCaseInput) (model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create"); err != nil {
		return model.Case{}, err
	}
	m.nextID++
	c := model.Case{
		ID:          "case-" + string(rune('0'+m.nextID)),
		Title:       in.Title,
		Status:      model.StatusInProgress,
		Priority:    in.Priority,
		Flow:        in.Flow,
		Independent: in.Independent,
		Questions:   in.Questions,
		CreatedAt:   time.Now(),
	}
	m.cases[c.ID] = c
	return c, nil
}

func (m *MockBackend) UpdateCase(ctx context.Context, id string, f backend.CaseUpdate) (model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("update"); err != nil {
		return model.Case{}, err
	}
	c := m.cases[id]
	if f.Status != nil {
		c.Status = *f.Status
	}
	if f.Progress != nil {
		c.Progress = *f.Progress
	}
	if f.FinishedAt != nil {
		c.FinishedAt = f.FinishedAt
	}
	m.cases[id] = c
	return c.Clone(), nil
}

func (m *MockBackend) DeleteCase(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete"); err != nil {
		return err
	}
	delete(m.cases, id)
	return nil
}

func (m *MockBackend) RestoreCase(ctx context.Context, id string) (model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("restore:" + id); err != nil {
		return model.Case{}, err
	}
	c := model.Case{ID: id, Status: model.StatusInProgress, Flow: []model.DepartmentID{1}}
	m.cases[id] = c
	return c, nil
}

func (m *MockBackend) AdvanceCase(ctx context.Context, id string) (model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("advance"); err != nil {
		return model.Case{}, err
	}
	c := m.cases[id]
	c.CurrentIndex++
	c.Progress = c.ComputeProgress()
	m.cases[id] = c
	return c.Clone(), nil
}

func (m *MockBackend) RevertCase(ctx context.Context, id string) (model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("revert"); err != nil {
		return model.Case{}, err
	}
	c := m.cases[id]
	c.CurrentIndex--
	m.cases[id] = c
	return c.Clone(), nil
}

func (m *MockBackend) SetChecklistEntry(ctx context.Context, caseID string, dept model.DepartmentID, completed bool) (model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("checklist:" + dept.String()); err != nil {
		return model.Case{}, err
	}
	c := m.cases[caseID].Clone()
	if c.Checklist == nil {
		c.Checklist = make(map[model.DepartmentID]model.ChecklistEntry)
	}
	c.Checklist[dept] = model.ChecklistEntry{Completed: completed}
	m.cases[caseID] = c
	return c.Clone(), nil
}

type mockAttachments struct {
	fail  error
	next  int
	calls []string
}

func (a *mockAttachments) Upload(ctx context.Context, caseID string, up backend.Upload) (model.Document, error) {
	a.calls = append(a.calls, "upload")
	if a.fail != nil {
		return model.Document{}, a.fail
	}
	if up.Body != nil {
		_, _ = io.Copy(io.Discard, up.Body)
	}
	a.next++
	return model.Document{
		ID:           "doc-" + string(rune('0'+a.next)),
		CaseID:       caseID,
		DepartmentID: up.DepartmentID,
		QuestionID:   up.QuestionID,
		Name:         up.Name,
	}, nil
}

func (a *mockAttachments) Delete(ctx context.Context, documentID string) error {
	a.calls = append(a.calls, "delete:"+documentID)
	return a.fail
}

type departmentMap map[model.DepartmentID]model.Department

func (d departmentMap) Department(id model.DepartmentID) (model.Department, bool) {
	dep, ok := d[id]
	return dep, ok
}

func setup(depts departmentMap, cases ...model.Case) (*Engine, *store.Store, *MockBackend) {
	st := store.New(zap.NewNop())
	mb := NewMockBackend()
	for _, c := range cases {
		st.Put(c)
		mb.seed(c)
	}
	eng := NewEngine(st, mb, depts, schema.NewCompilerWithCache(16), zap.NewNop())
	eng.SetSession(backend.StaticSession(model.Actor{ID: "actor-1"}))
	return eng, st, mb
}
