// Package livesync keeps the case store and reference data current through
// push subscriptions, falling back to polling when push is unavailable.
package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"caseflow/internal/backend"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// State of a connectivity group
type State string

const (
	StateDisabled   State = "disabled"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
)

// GroupConfig describes one connectivity group
type GroupConfig struct {
	Name  string
	Topic backend.Topic

	// FallbackDelay is how long connecting may take before polling starts
	FallbackDelay time.Duration
	PollInterval  time.Duration
	Debounce      time.Duration

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// Refresh refetches the group's entities and merges them. Errors are
	// logged and the last-known-good state is kept.
	Refresh func(ctx context.Context) error

	// OnDelete applies a delete event immediately. Returning false falls
	// back to a debounced refetch.
	OnDelete func(ev backend.Event) bool
}

var ErrAlreadyStarted = errors.New("group already started")

// Group runs the connectivity state machine of one entity cluster:
// disabled -> connecting -> connected | degraded. All timers and the
// subscription are owned by a single goroutine; refetches run one at a time.
type Group struct {
	cfg GroupConfig
	sub backend.Subscriber
	log *zap.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func NewGroup(cfg GroupConfig, sub backend.Subscriber, log *zap.Logger) *Group {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	return &Group{
		cfg:   cfg,
		sub:   sub,
		log:   log.With(zap.String("group", cfg.Name)),
		state: StateDisabled,
	}
}

func (g *Group) Name() string {
	return g.cfg.Name
}

// State returns the current connectivity state
func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Group) setState(s State) {
	g.mu.Lock()
	prev := g.state
	g.state = s
	g.mu.Unlock()
	if prev != s {
		g.log.Info("Connectivity state changed", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// Start begins connecting. The group runs until Close or ctx is done.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.done != nil {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	g.mu.Unlock()

	go g.run(ctx)
	return nil
}

// Close stops the group and waits for any in-flight refetch to finish.
// It is safe to call more than once.
func (g *Group) Close() error {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	g.setState(StateDisabled)
	return nil
}

type dialResult struct {
	stream backend.Stream
	err    error
}

func (g *Group) backoff() retry.Backoff {
	b := retry.NewExponential(g.cfg.ReconnectBase)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(g.cfg.ReconnectMax, b)
}

// stopTimer stops t and reports a nil channel so a select ignores it
func stopTimer(t *time.Timer) <-chan time.Time {
	if t != nil {
		t.Stop()
	}
	return nil
}

func (g *Group) run(ctx context.Context) {
	defer close(g.done)

	var (
		stream    backend.Stream
		events    <-chan backend.Event
		status    <-chan backend.ChannelStatus
		dialing   bool
		dials     = make(chan dialResult, 1)
		reconnect = g.backoff()

		fallback, debounce, retryTimer *time.Timer
		fallbackC, debounceC, retryC   <-chan time.Time

		poller *time.Ticker
		pollC  <-chan time.Time

		refreshing, dirty bool
		refreshed         = make(chan struct{}, 1)
	)

	defer func() {
		stopTimer(fallback)
		stopTimer(debounce)
		stopTimer(retryTimer)
		if poller != nil {
			poller.Stop()
		}
		if stream != nil {
			_ = stream.Close()
		}
		if dialing {
			go func() {
				if res := <-dials; res.stream != nil {
					_ = res.stream.Close()
				}
			}()
		}
		if refreshing {
			<-refreshed
		}
	}()

	startRefresh := func() {
		if refreshing {
			dirty = true
			return
		}
		debounceC = stopTimer(debounce)
		refreshing = true
		go func() {
			g.refresh(ctx)
			refreshed <- struct{}{}
		}()
	}

	// scheduleRefresh starts a debounce window unless one is pending. A
	// window never opens while a refetch is merging.
	scheduleRefresh := func() {
		if refreshing {
			dirty = true
			return
		}
		if debounceC != nil {
			return
		}
		debounce = time.NewTimer(g.cfg.Debounce)
		debounceC = debounce.C
	}

	closeStream := func() {
		if stream != nil {
			_ = stream.Close()
		}
		stream, events, status = nil, nil, nil
	}

	scheduleReconnect := func() {
		if dialing || retryC != nil {
			return
		}
		d, stop := reconnect.Next()
		if stop {
			return
		}
		g.log.Debug("Scheduling push reconnect", zap.Duration("delay", d))
		retryTimer = time.NewTimer(d)
		retryC = retryTimer.C
	}

	degrade := func(reason string) {
		fallbackC = stopTimer(fallback)
		closeStream()
		if g.State() != StateDegraded {
			g.log.Info("Falling back to polling", zap.String("reason", reason), zap.Duration("interval", g.cfg.PollInterval))
		}
		g.setState(StateDegraded)
		if poller == nil {
			poller = time.NewTicker(g.cfg.PollInterval)
			pollC = poller.C
			startRefresh()
		}
		scheduleReconnect()
	}

	connect := func() {
		g.setState(StateConnecting)
		fallback = time.NewTimer(g.cfg.FallbackDelay)
		fallbackC = fallback.C
		dialing = true
		go func() {
			s, err := g.sub.Subscribe(ctx, g.cfg.Topic)
			dials <- dialResult{stream: s, err: err}
		}()
	}

	connected := func() {
		fallbackC = stopTimer(fallback)
		if poller != nil {
			poller.Stop()
			poller, pollC = nil, nil
		}
		reconnect = g.backoff()
		g.setState(StateConnected)
		startRefresh()
	}

	connect()
	for {
		select {
		case <-ctx.Done():
			return

		case res := <-dials:
			dialing = false
			if res.err != nil {
				g.log.Debug("Push subscription failed", zap.Error(res.err))
				degrade("subscribe failed")
				continue
			}
			stream = res.stream
			events, status = stream.Events(), stream.Status()

		case <-fallbackC:
			fallbackC = nil
			if g.State() == StateConnecting {
				degrade("connect timeout")
			}

		case <-retryC:
			retryC = nil
			connect()

		case st, ok := <-status:
			if !ok {
				degrade("stream closed")
				continue
			}
			switch st {
			case backend.StatusSubscribed:
				connected()
			case backend.StatusChannelError, backend.StatusTimedOut, backend.StatusClosed:
				degrade(string(st))
			}

		case ev, ok := <-events:
			if !ok {
				degrade("stream closed")
				continue
			}
			if ev.Type == backend.EventDelete && g.cfg.OnDelete != nil && g.cfg.OnDelete(ev) {
				continue
			}
			scheduleRefresh()

		case <-debounceC:
			debounceC = nil
			startRefresh()

		case <-pollC:
			if !refreshing {
				startRefresh()
			}

		case <-refreshed:
			refreshing = false
			if dirty {
				dirty = false
				scheduleRefresh()
			}
		}
	}
}

func (g *Group) refresh(ctx context.Context) {
	if g.cfg.Refresh == nil {
		return
	}
	start := time.Now()
	if err := g.cfg.Refresh(ctx); err != nil {
		if ctx.Err() == nil {
			g.log.Debug("Refetch failed, keeping last known state", zap.Error(err))
		}
		return
	}
	g.log.Debug("Refetched", zap.Duration("took", time.Since(start)))
}
