package store

import (
	"sync"

	"go.uber.org/zap"
)

// Subscription receives store changes until closed
type Subscription struct {
	C <-chan Change

	ch    chan Change
	id    int
	store *Store
	once  sync.Once
}

// Subscribe returns a handle whose channel receives every change. Slow
// readers drop changes rather than block writers.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	sub := &Subscription{C: ch, ch: ch, id: s.nextID, store: s}
	s.subs[sub.id] = sub
	return sub
}

// Close unsubscribes and closes the channel
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.subMu.Lock()
		delete(sub.store.subs, sub.id)
		close(sub.ch)
		sub.store.subMu.Unlock()
	})
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- c:
		default:
			s.log.Warn("Store subscriber buffer full, dropping change",
				zap.String("case_id", c.CaseID),
				zap.String("kind", string(c.Kind)),
			)
		}
	}
}
