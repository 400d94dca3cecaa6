// Package notify relays an actor's new inbox items as local alerts.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/livesync"
	"caseflow/internal/model"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Alerter delivers a desktop-level alert
type Alerter interface {
	Alert(ctx context.Context, n model.Notification) error
}

// LogAlerter writes alerts to the log
type LogAlerter struct {
	log *zap.Logger
}

func NewLogAlerter(log *zap.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (a *LogAlerter) Alert(ctx context.Context, n model.Notification) error {
	a.log.Info("Notification",
		zap.String("id", n.ID),
		zap.String("kind", n.Kind),
		zap.String("case_id", n.CaseID),
		zap.String("text", n.Text),
		zap.Bool("local", n.Local),
	)
	return nil
}

// Relay diffs the backend inbox on every refresh and alerts on items it has
// not seen before. The first refresh only records the baseline.
type Relay struct {
	queries backend.Queries
	session backend.Session
	alerter Alerter
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	primed bool
	known  map[string]struct{}
	inbox  []model.Notification
	local  []model.Notification
}

func NewRelay(queries backend.Queries, session backend.Session, alerter Alerter, log *zap.Logger) *Relay {
	return &Relay{
		queries: queries,
		session: session,
		alerter: alerter,
		log:     log,
		now:     time.Now,
		known:   make(map[string]struct{}),
	}
}

// Refresh fetches the actor's inbox and alerts on new unread items if the
// actor opted in
func (r *Relay) Refresh(ctx context.Context) error {
	actor := r.session.Actor()
	items, err := r.queries.ListNotifications(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}

	r.mu.Lock()
	var fresh []model.Notification
	for _, n := range items {
		_, seen := r.known[n.ID]
		if !seen && !n.Read && r.primed {
			fresh = append(fresh, n)
		}
		r.known[n.ID] = struct{}{}
	}
	r.primed = true
	r.inbox = items
	r.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	if !actor.AlertsEnabled {
		r.log.Debug("Alerts disabled, skipping new notifications", zap.Int("count", len(fresh)))
		return nil
	}
	for _, n := range fresh {
		if err := r.alerter.Alert(ctx, n); err != nil {
			r.log.Warn("Failed to deliver alert", zap.String("notification_id", n.ID), zap.Error(err))
		}
	}
	return nil
}

// Notice records a locally originated notice. It is kept apart from the
// backend inbox and never matched against it.
func (r *Relay) Notice(ctx context.Context, kind, text, caseID string) model.Notification {
	actor := r.session.Actor()
	n := model.Notification{
		ID:        "local-" + ulid.Make().String(),
		ActorID:   actor.ID,
		Kind:      kind,
		Text:      text,
		CaseID:    caseID,
		CreatedAt: r.now(),
		Local:     true,
	}
	r.mu.Lock()
	r.local = append(r.local, n)
	r.mu.Unlock()

	if actor.AlertsEnabled {
		if err := r.alerter.Alert(ctx, n); err != nil {
			r.log.Warn("Failed to deliver alert", zap.String("notification_id", n.ID), zap.Error(err))
		}
	}
	return n
}

// Inbox returns backend and local items, newest first
func (r *Relay) Inbox() []model.Notification {
	r.mu.Lock()
	out := make([]model.Notification, 0, len(r.inbox)+len(r.local))
	out = append(out, r.inbox...)
	out = append(out, r.local...)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Unread counts unread items, local notices included
func (r *Relay) Unread() int {
	n := 0
	for _, item := range r.Inbox() {
		if !item.Read {
			n++
		}
	}
	return n
}

// GroupConfig returns the notifications connectivity group scoped to the
// session's actor
func (r *Relay) GroupConfig(cfg livesync.Config) livesync.GroupConfig {
	topic := backend.Topic{Tables: []string{"notifications"}, Filter: r.session.Actor().ID}
	gc := cfg.GroupConfig(livesync.GroupNotifications, topic, cfg.NotificationsPoll)
	gc.Refresh = r.Refresh
	return gc
}
