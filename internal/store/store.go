// Package store holds the in-memory case collection shared by the flow and
// sync engines. It is passed explicitly to every component that needs it.
package store

import (
	"errors"
	"sort"
	"sync"

	"caseflow/internal/model"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("case not found in store")

// ChangeKind describes a store mutation
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangePatch  ChangeKind = "patch"
	ChangeRemove ChangeKind = "remove"
	ChangeRekey  ChangeKind = "rekey"
)

// Change is delivered to subscribers after every mutation
type Change struct {
	Kind   ChangeKind
	CaseID string
	// OldID is set for ChangeRekey when a pending record is confirmed under its server id
	OldID string
}

// MergeStats summarizes one UpsertMany call
type MergeStats struct {
	Inserted  int
	Replaced  int
	KeptLocal int
	Preserved int
}

// Store is an indexed collection of cases keyed by id
type Store struct {
	mu    sync.RWMutex
	cases map[string]*model.Case
	// generation counts MarkDetailAuthoritative calls; markedAt is the
	// generation of a pending mark, 0 when none
	generation uint64
	markedAt   uint64

	subMu  sync.Mutex
	subs   map[int]*Subscription
	nextID int

	log *zap.Logger
}

func New(log *zap.Logger) *Store {
	return &Store{
		cases: make(map[string]*model.Case),
		subs:  make(map[int]*Subscription),
		log:   log,
	}
}

// Get returns a copy of the case
func (s *Store) Get(id string) (model.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return model.Case{}, false
	}
	return c.Clone(), true
}

// List returns copies of every case, oldest first
func (s *Store) List() []model.Case {
	s.mu.RLock()
	out := make([]model.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	sortCases(out)
	return out
}

// ByDepartment returns the in-progress cases shown in a department column.
// Sequential cases appear only in their current department; independent
// cases appear in every flow department whose checklist entry is open.
func (s *Store) ByDepartment(dept model.DepartmentID) []model.Case {
	s.mu.RLock()
	var out []model.Case
	for _, c := range s.cases {
		if c.Status != model.StatusInProgress {
			continue
		}
		if c.Independent {
			if c.FlowIndex(dept) >= 0 && !c.DepartmentComplete(dept) {
				out = append(out, c.Clone())
			}
			continue
		}
		if cur, ok := c.CurrentDepartment(); ok && cur == dept {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sortCases(out)
	return out
}

func sortCases(cs []model.Case) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

// Put inserts or replaces a single case unconditionally
func (s *Store) Put(c model.Case) {
	cp := c.Clone()
	s.mu.Lock()
	s.cases[c.ID] = &cp
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpsert, CaseID: c.ID})
}

// Rekey replaces the record stored under oldID with c, used when a pending
// local record is confirmed by the backend under a new id
func (s *Store) Rekey(oldID string, c model.Case) {
	cp := c.Clone()
	s.mu.Lock()
	delete(s.cases, oldID)
	s.cases[c.ID] = &cp
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRekey, CaseID: c.ID, OldID: oldID})
}

// MarkDetailAuthoritative flags the refresh cycle after a detail mutation so
// incoming records replace local detail even when it looks richer. Only a
// refresh whose fetch started after the mark honors and clears it.
func (s *Store) MarkDetailAuthoritative() {
	s.mu.Lock()
	s.generation++
	s.markedAt = s.generation
	s.mu.Unlock()
}

// Generation is captured by a refresh before it fetches and passed back
// through FetchedAt
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// MergeOption adjusts a single UpsertMany call
type MergeOption func(*mergeConfig)

type mergeConfig struct {
	authoritative bool
	fetchedAt     uint64
	hasFetchedAt  bool
}

// DetailAuthoritative forces incoming records to win for this call
func DetailAuthoritative() MergeOption {
	return func(c *mergeConfig) { c.authoritative = true }
}

// FetchedAt records the generation observed before the incoming list was
// fetched. Without it the list is treated as fetched at the current
// generation.
func FetchedAt(gen uint64) MergeOption {
	return func(c *mergeConfig) {
		c.fetchedAt = gen
		c.hasFetchedAt = true
	}
}

// UpsertMany merges a full refresh. A case with richer local detail is kept
// over an incoming record that lacks it, unless the cycle is detail
// authoritative. Ids absent from incoming are preserved.
func (s *Store) UpsertMany(incoming []model.Case, opts ...MergeOption) MergeStats {
	var cfg mergeConfig
	for _, o := range opts {
		o(&cfg)
	}

	var stats MergeStats
	changed := make([]string, 0, len(incoming))

	s.mu.Lock()
	if !cfg.hasFetchedAt {
		cfg.fetchedAt = s.generation
	}
	// A list fetched before the mark predates the mutation and must not
	// consume it
	if s.markedAt != 0 && cfg.fetchedAt >= s.markedAt {
		cfg.authoritative = true
		s.markedAt = 0
	}
	seen := make(map[string]bool, len(incoming))
	for _, in := range incoming {
		seen[in.ID] = true
		existing, ok := s.cases[in.ID]
		if !ok {
			cp := in.Clone()
			s.cases[in.ID] = &cp
			stats.Inserted++
			changed = append(changed, in.ID)
			continue
		}
		if !cfg.authoritative && richer(existing, &in) {
			stats.KeptLocal++
			continue
		}
		cp := in.Clone()
		s.cases[in.ID] = &cp
		stats.Replaced++
		changed = append(changed, in.ID)
	}
	for id := range s.cases {
		if !seen[id] {
			stats.Preserved++
		}
	}
	s.mu.Unlock()

	for _, id := range changed {
		s.notify(Change{Kind: ChangeUpsert, CaseID: id})
	}
	s.log.Debug("Merged case refresh",
		zap.Int("inserted", stats.Inserted),
		zap.Int("replaced", stats.Replaced),
		zap.Int("kept_local", stats.KeptLocal),
		zap.Int("preserved", stats.Preserved),
		zap.Bool("authoritative", cfg.authoritative),
	)
	return stats
}

// richer reports whether existing carries detail that incoming lacks
func richer(existing, incoming *model.Case) bool {
	if len(existing.Questions) > 0 && len(incoming.Questions) == 0 {
		return true
	}
	if len(existing.Answers) > 0 && len(incoming.Answers) == 0 {
		return true
	}
	if len(existing.Documents) > 0 && len(incoming.Documents) == 0 {
		return true
	}
	return false
}

// Patch applies fn to the stored case in place
func (s *Store) Patch(id string, fn func(*model.Case)) error {
	s.mu.Lock()
	c, ok := s.cases[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	fn(c)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePatch, CaseID: id})
	return nil
}

// Remove deletes a case; it reports whether the id was present
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.cases[id]
	delete(s.cases, id)
	s.mu.Unlock()
	if ok {
		s.notify(Change{Kind: ChangeRemove, CaseID: id})
	}
	return ok
}

// Len returns the number of cases held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}
