package refdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueries struct {
	depts   []model.Department
	labels  []model.Label
	failing error
}

func (f *fakeQueries) ListCases(ctx context.Context) ([]model.Case, error) { return nil, nil }
func (f *fakeQueries) GetCase(ctx context.Context, id string) (model.Case, error) {
	return model.Case{}, nil
}
func (f *fakeQueries) ListDepartments(ctx context.Context) ([]model.Department, error) {
	return f.depts, nil
}
func (f *fakeQueries) ListLabels(ctx context.Context) ([]model.Label, error) {
	if f.failing != nil {
		return nil, f.failing
	}
	return f.labels, nil
}
func (f *fakeQueries) ListTemplates(ctx context.Context) ([]model.Template, error) { return nil, nil }
func (f *fakeQueries) ListCompanies(ctx context.Context) ([]model.Company, error) {
	return []model.Company{{ID: "acme", Name: "Acme"}}, nil
}
func (f *fakeQueries) ListNotifications(ctx context.Context, actorID string) ([]model.Notification, error) {
	return nil, nil
}

func TestCache_Refresh(t *testing.T) {
	q := &fakeQueries{
		depts: []model.Department{
			{ID: 3, Name: "Shipping", Position: 2},
			{ID: 1, Name: "Sales", Position: 0},
			{ID: 2, Name: "Finance", Position: 1},
		},
		labels: []model.Label{{ID: "u", Name: "urgent"}},
	}
	c := NewCache(q, zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	d, ok := c.Department(2)
	require.True(t, ok)
	assert.Equal(t, "Finance", d.Name)

	var names []string
	for _, d := range c.Departments() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"Sales", "Finance", "Shipping"}, names)

	_, ok = c.Company("acme")
	assert.True(t, ok)
	assert.False(t, c.RefreshedAt().IsZero())
}

func TestCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	q := &fakeQueries{depts: []model.Department{{ID: 1, Name: "Sales"}}}
	c := NewCache(q, zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	q.depts = nil
	q.failing = errors.New("connection reset")
	err := c.Refresh(context.Background())
	assert.ErrorContains(t, err, "failed to list labels")

	_, ok := c.Department(1)
	assert.True(t, ok)
}

func TestCache_KeepsSnapshotWithoutRefresh(t *testing.T) {
	q := &fakeQueries{depts: []model.Department{{ID: 1, Name: "Sales", RequiredDocuments: []string{"Signed order"}}}}
	c := NewCache(q, zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	// A connected reference group refetches only on events; a quiet
	// stretch longer than any poll interval must not drop entries.
	time.Sleep(120 * time.Millisecond)

	d, ok := c.Department(1)
	require.True(t, ok)
	assert.Equal(t, []string{"Signed order"}, d.RequiredDocuments)
	assert.Len(t, c.Departments(), 1)
}
