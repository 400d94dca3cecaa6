package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/model"
	"caseflow/internal/schema"
	"caseflow/internal/storage"

	"go.uber.org/zap"
)

// MockEventBus implements EventBus for testing
type MockEventBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	table  string
	kind   backend.EventType
	row    interface{}
	filter string
}

func (m *MockEventBus) PublishChange(ctx context.Context, table string, eventType backend.EventType, row interface{}, filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{table: table, kind: eventType, row: row, filter: filter})
	return nil
}

func (m *MockEventBus) tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = string(e.kind) + ":" + e.table
	}
	return out
}

// memStorage keeps uploaded bytes in a map
type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memStorage) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[name] = b
	return int64(len(b)), nil
}

func (m *memStorage) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	if !ok {
		return nil, storage.ErrInvalidName
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStorage) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

func (m *memStorage) URL(name string) string {
	return "http://files.test/" + name
}

// conflictingRepo bumps the stored version before every write, as if another
// writer got there first
type conflictingRepo struct {
	*MemoryRepository
}

func (r conflictingRepo) UpdateCase(ctx context.Context, c model.Case, version int64) (int64, error) {
	r.mu.Lock()
	r.versions[c.ID]++
	r.mu.Unlock()
	return r.MemoryRepository.UpdateCase(ctx, c, version)
}

type mockJobs struct {
	scheduled map[string]time.Time
}

func (m *mockJobs) SchedulePurge(caseID string, at time.Time) error {
	if m.scheduled == nil {
		m.scheduled = make(map[string]time.Time)
	}
	m.scheduled[caseID] = at
	return nil
}

var (
	sales    = model.Department{ID: 1, Name: "Sales", RequiredDocuments: []string{"Signed order"}}
	finance  = model.Department{ID: 2, Name: "Finance"}
	shipping = model.Department{ID: 3, Name: "Shipping"}
)

func newTestService(cases ...model.Case) (*CaseService, *MemoryRepository, *MockEventBus) {
	repo := NewMemoryRepository()
	repo.SetDepartments(sales, finance, shipping)
	for _, c := range cases {
		repo.InsertCase(context.Background(), c)
	}
	now := func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	repo.now = now
	bus := &MockEventBus{}
	svc := NewCaseService(repo, schema.NewCompilerWithCache(64), bus, zap.NewNop())
	svc.now = now
	return svc, repo, bus
}
