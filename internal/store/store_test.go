package store

import (
	"testing"
	"time"

	"caseflow/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCase(id string) model.Case {
	return model.Case{
		ID:        id,
		Status:    model.StatusInProgress,
		Flow:      []model.DepartmentID{1, 2},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestUpsertMany_KeepsRicherLocalDocuments(t *testing.T) {
	s := New(zap.NewNop())
	local := newCase("c1")
	s.Put(local)
	require.NoError(t, s.Patch("c1", func(c *model.Case) {
		c.Documents = append(c.Documents, model.Document{ID: "d1", DepartmentID: 1, Name: "contract.pdf"})
	}))

	incoming := newCase("c1")
	incoming.CurrentIndex = 1
	stats := s.UpsertMany([]model.Case{incoming})

	got, ok := s.Get("c1")
	require.True(t, ok)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "d1", got.Documents[0].ID)
	assert.Equal(t, 1, stats.KeptLocal)
	assert.Equal(t, 0, got.CurrentIndex, "the whole local record is kept")
}

func TestUpsertMany_DetailAuthoritativeOverwrites(t *testing.T) {
	s := New(zap.NewNop())
	local := newCase("c1")
	local.Documents = []model.Document{{ID: "d1"}}
	s.Put(local)

	incoming := newCase("c1")
	incoming.CurrentIndex = 1
	s.UpsertMany([]model.Case{incoming}, DetailAuthoritative())

	got, _ := s.Get("c1")
	assert.Empty(t, got.Documents)
	assert.Equal(t, 1, got.CurrentIndex)
}

func TestUpsertMany_MarkDetailAuthoritativeAppliesOnce(t *testing.T) {
	s := New(zap.NewNop())
	local := newCase("c1")
	local.Answers = map[model.DepartmentID]map[string]any{1: {"q": "x"}}
	s.Put(local)

	s.MarkDetailAuthoritative()
	s.UpsertMany([]model.Case{newCase("c1")})
	got, _ := s.Get("c1")
	assert.Empty(t, got.Answers)

	require.NoError(t, s.Patch("c1", func(c *model.Case) {
		c.Answers = map[model.DepartmentID]map[string]any{1: {"q": "y"}}
	}))
	s.UpsertMany([]model.Case{newCase("c1")})
	got, _ = s.Get("c1")
	assert.Equal(t, "y", got.Answers[1]["q"], "flag is consumed by one refresh")
}

func TestUpsertMany_StaleFetchDoesNotConsumeMark(t *testing.T) {
	s := New(zap.NewNop())
	local := newCase("c1")
	local.Documents = []model.Document{{ID: "d1", DepartmentID: 1}}
	s.Put(local)

	// A refresh starts before the document is removed
	staleGen := s.Generation()
	stale := []model.Case{local}

	require.NoError(t, s.Patch("c1", func(c *model.Case) { c.Documents = nil }))
	s.MarkDetailAuthoritative()

	s.UpsertMany(stale, FetchedAt(staleGen))

	// The refresh triggered by the delete event sees the server state
	freshGen := s.Generation()
	stats := s.UpsertMany([]model.Case{newCase("c1")}, FetchedAt(freshGen))

	got, ok := s.Get("c1")
	require.True(t, ok)
	assert.Empty(t, got.Documents)
	assert.Equal(t, 1, stats.Replaced)

	// The mark is spent; later refreshes merge normally again
	require.NoError(t, s.Patch("c1", func(c *model.Case) {
		c.Documents = []model.Document{{ID: "d2", DepartmentID: 1}}
	}))
	s.UpsertMany([]model.Case{newCase("c1")}, FetchedAt(s.Generation()))
	got, _ = s.Get("c1")
	assert.Len(t, got.Documents, 1)
}

func TestUpsertMany_IncomingDetailWins(t *testing.T) {
	s := New(zap.NewNop())
	local := newCase("c1")
	local.Questions = map[model.DepartmentID][]model.Question{1: {{ID: "old"}}}
	s.Put(local)

	incoming := newCase("c1")
	incoming.Questions = map[model.DepartmentID][]model.Question{1: {{ID: "new"}}}
	s.UpsertMany([]model.Case{incoming})

	got, _ := s.Get("c1")
	if diff := cmp.Diff(incoming.Questions, got.Questions); diff != "" {
		t.Errorf("questions mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertMany_PreservesAbsentCases(t *testing.T) {
	s := New(zap.NewNop())
	s.Put(newCase("a"))
	s.Put(newCase("b"))

	stats := s.UpsertMany([]model.Case{newCase("a"), newCase("c")})

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.Replaced)
	assert.Equal(t, 1, stats.Preserved)
}

func TestGet_ReturnsIsolatedCopy(t *testing.T) {
	s := New(zap.NewNop())
	c := newCase("c1")
	c.Answers = map[model.DepartmentID]map[string]any{1: {"q": "x"}}
	s.Put(c)

	got, _ := s.Get("c1")
	got.Answers[1]["q"] = "mutated"
	got.Flow[0] = 99

	again, _ := s.Get("c1")
	assert.Equal(t, "x", again.Answers[1]["q"])
	assert.Equal(t, model.DepartmentID(1), again.Flow[0])
}

func TestByDepartment(t *testing.T) {
	s := New(zap.NewNop())

	seq := newCase("seq")
	seq.CurrentIndex = 1
	s.Put(seq)

	ind := newCase("ind")
	ind.Independent = true
	ind.Flow = []model.DepartmentID{1, 2, 3}
	ind.Checklist = map[model.DepartmentID]model.ChecklistEntry{2: {Completed: true}}
	s.Put(ind)

	done := newCase("done")
	done.Status = model.StatusFinished
	s.Put(done)

	ids := func(cs []model.Case) []string {
		out := []string{}
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []string{"ind"}, ids(s.ByDepartment(1)))
	assert.Equal(t, []string{"seq"}, ids(s.ByDepartment(2)))
	assert.Equal(t, []string{"ind"}, ids(s.ByDepartment(3)))
}

func TestPatchAndRemove(t *testing.T) {
	s := New(zap.NewNop())
	assert.ErrorIs(t, s.Patch("missing", func(*model.Case) {}), ErrNotFound)

	s.Put(newCase("c1"))
	assert.True(t, s.Remove("c1"))
	assert.False(t, s.Remove("c1"))
	_, ok := s.Get("c1")
	assert.False(t, ok)
}

func TestRekey(t *testing.T) {
	s := New(zap.NewNop())
	pending := newCase("tmp")
	pending.State = model.RecordPending
	s.Put(pending)

	confirmed := newCase("srv-1")
	s.Rekey("tmp", confirmed)

	_, ok := s.Get("tmp")
	assert.False(t, ok)
	got, ok := s.Get("srv-1")
	require.True(t, ok)
	assert.Equal(t, model.RecordConfirmed, got.State)
}

func TestSubscribe(t *testing.T) {
	s := New(zap.NewNop())
	sub := s.Subscribe(8)

	s.Put(newCase("c1"))
	require.NoError(t, s.Patch("c1", func(c *model.Case) { c.Title = "x" }))
	s.Remove("c1")

	var kinds []ChangeKind
	for i := 0; i < 3; i++ {
		select {
		case ch := <-sub.C:
			kinds = append(kinds, ch.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change")
		}
	}
	assert.Equal(t, []ChangeKind{ChangeUpsert, ChangePatch, ChangeRemove}, kinds)

	sub.Close()
	sub.Close()
	_, open := <-sub.C
	assert.False(t, open)
}
