package livesync

import (
	"context"
	"fmt"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/model"
	"caseflow/internal/refdata"
	"caseflow/internal/store"

	"go.uber.org/zap"
)

// Group names
const (
	GroupCases         = "cases"
	GroupReference     = "reference"
	GroupNotifications = "notifications"
)

// Tables whose changes affect a case card
var CaseTables = []string{"cases", "comments", "labels", "documents", "history"}

// Tables holding reference data
var ReferenceTables = []string{"departments", "labels", "templates", "companies"}

// Config holds sync timing
type Config struct {
	FallbackDelay     time.Duration `yaml:"fallback_delay"`
	Debounce          time.Duration `yaml:"debounce"`
	CasesPoll         time.Duration `yaml:"cases_poll"`
	ReferencePoll     time.Duration `yaml:"reference_poll"`
	NotificationsPoll time.Duration `yaml:"notifications_poll"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
}

func DefaultConfig() Config {
	return Config{
		FallbackDelay:     5 * time.Second,
		Debounce:          250 * time.Millisecond,
		CasesPoll:         5 * time.Second,
		ReferencePoll:     8 * time.Second,
		NotificationsPoll: 15 * time.Second,
		ReconnectBase:     2 * time.Second,
		ReconnectMax:      time.Minute,
	}
}

// GroupConfig fills in the shared timing for a group
func (c Config) GroupConfig(name string, topic backend.Topic, poll time.Duration) GroupConfig {
	return GroupConfig{
		Name:          name,
		Topic:         topic,
		FallbackDelay: c.FallbackDelay,
		PollInterval:  poll,
		Debounce:      c.Debounce,
		ReconnectBase: c.ReconnectBase,
		ReconnectMax:  c.ReconnectMax,
	}
}

// Engine starts the connectivity groups of a user session
type Engine struct {
	cfg     Config
	store   *store.Store
	queries backend.Queries
	sub     backend.Subscriber
	refs    *refdata.Cache
	log     *zap.Logger
}

func NewEngine(cfg Config, st *store.Store, queries backend.Queries, sub backend.Subscriber, log *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		queries: queries,
		sub:     sub,
		log:     log,
	}
}

// SetReference enables the reference-data group
func (e *Engine) SetReference(refs *refdata.Cache) {
	e.refs = refs
}

func (e *Engine) Config() Config {
	return e.cfg
}

// CasesGroup refetches every case and merges it into the store. A delete
// of a case row is applied to the store without waiting for a refetch.
func (e *Engine) CasesGroup() GroupConfig {
	gc := e.cfg.GroupConfig(GroupCases, backend.Topic{Tables: CaseTables}, e.cfg.CasesPoll)
	gc.Refresh = func(ctx context.Context) error {
		gen := e.store.Generation()
		cases, err := e.queries.ListCases(ctx)
		if err != nil {
			return fmt.Errorf("failed to list cases: %w", err)
		}
		e.store.UpsertMany(cases, store.FetchedAt(gen))
		return nil
	}
	gc.OnDelete = func(ev backend.Event) bool {
		if ev.Table != "cases" {
			return false
		}
		id := ev.RowID()
		if id == "" {
			return false
		}
		if e.store.Remove(id) {
			e.log.Debug("Applied case delete", zap.String("case_id", id))
		}
		return true
	}
	return gc
}

// ReferenceGroup refreshes the reference-data cache
func (e *Engine) ReferenceGroup() GroupConfig {
	gc := e.cfg.GroupConfig(GroupReference, backend.Topic{Tables: ReferenceTables}, e.cfg.ReferencePoll)
	gc.Refresh = e.refs.Refresh
	return gc
}

// Start opens the case and reference groups plus any extra groups, such as
// the notification relay's, and returns the session handle owning them
func (e *Engine) Start(ctx context.Context, actor model.Actor, extra ...GroupConfig) (*Session, error) {
	configs := []GroupConfig{e.CasesGroup()}
	if e.refs != nil {
		configs = append(configs, e.ReferenceGroup())
	}
	configs = append(configs, extra...)

	s := &Session{actor: actor, groups: make(map[string]*Group, len(configs))}
	for _, gc := range configs {
		g := NewGroup(gc, e.sub, e.log.With(zap.String("actor_id", actor.ID)))
		if err := g.Start(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to start %s group: %w", gc.Name, err)
		}
		s.groups[gc.Name] = g
		s.order = append(s.order, gc.Name)
	}
	e.log.Info("Sync session started", zap.String("actor_id", actor.ID), zap.Strings("groups", s.order))
	return s, nil
}

// Session owns the connectivity groups of one signed-in actor. Close must
// be called when the session ends.
type Session struct {
	actor  model.Actor
	groups map[string]*Group
	order  []string
}

func (s *Session) Actor() model.Actor {
	return s.actor
}

// Group returns a group by name
func (s *Session) Group(name string) (*Group, bool) {
	g, ok := s.groups[name]
	return g, ok
}

// States reports every group's connectivity state
func (s *Session) States() map[string]State {
	out := make(map[string]State, len(s.groups))
	for name, g := range s.groups {
		out[name] = g.State()
	}
	return out
}

// Close tears down every group
func (s *Session) Close() error {
	for i := len(s.order) - 1; i >= 0; i-- {
		_ = s.groups[s.order[i]].Close()
	}
	return nil
}
