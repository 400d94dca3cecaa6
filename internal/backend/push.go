package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// pushMessage is any frame the hub sends
type pushMessage struct {
	Type    string          `json:"type"`
	Ack     string          `json:"ack,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// wsURL maps the REST base URL onto the hub endpoint
func (c *Client) wsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Subscribe opens one WebSocket and subscribes to every channel of topic.
// StatusSubscribed is reported once all channels are acknowledged.
func (c *Client) Subscribe(ctx context.Context, topic Topic) (Stream, error) {
	header := http.Header{}
	c.authorize(header)

	dialer := websocket.Dialer{HandshakeTimeout: c.subscribeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial push channel (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial push channel: %w", err)
	}

	channels := topic.Channels()
	for _, ch := range channels {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "channel": ch}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", ch, err)
		}
	}

	s := &wsStream{
		conn:    conn,
		pending: make(map[string]bool, len(channels)),
		events:  make(chan Event, 64),
		status:  make(chan ChannelStatus, 4),
		done:    make(chan struct{}),
		log:     c.log,
	}
	for _, ch := range channels {
		s.pending[ch] = true
	}
	go s.read()
	go s.watchAck(c.subscribeTimeout)
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	log  *zap.Logger

	mu      sync.Mutex
	pending map[string]bool

	// only read sends on events and status
	events   chan Event
	status   chan ChannelStatus
	timedOut atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsStream) Events() <-chan Event         { return s.events }
func (s *wsStream) Status() <-chan ChannelStatus { return s.status }

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *wsStream) report(st ChannelStatus) {
	select {
	case s.status <- st:
	case <-s.done:
	}
}

func (s *wsStream) watchAck(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.mu.Lock()
		waiting := len(s.pending) > 0
		s.mu.Unlock()
		if waiting {
			s.timedOut.Store(true)
			s.conn.Close()
		}
	case <-s.done:
	}
}

// read drains the socket until it fails; frames may hold several
// newline-separated messages
func (s *wsStream) read() {
	defer close(s.events)
	defer close(s.status)

	for {
		_, r, err := s.conn.NextReader()
		if err != nil {
			if s.closed() {
				return
			}
			if s.timedOut.Load() {
				s.report(StatusTimedOut)
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.report(StatusClosed)
			} else {
				s.log.Debug("Push channel read failed", zap.Error(err))
				s.report(StatusChannelError)
			}
			return
		}

		dec := json.NewDecoder(r)
		for {
			var msg pushMessage
			if err := dec.Decode(&msg); err != nil {
				if !errors.Is(err, io.EOF) {
					s.log.Warn("Dropping malformed push frame", zap.Error(err))
				}
				break
			}
			if !s.handle(msg) {
				return
			}
		}
	}
}

// handle reports false when the stream should stop
func (s *wsStream) handle(msg pushMessage) bool {
	switch msg.Type {
	case "ack":
		if msg.Ack != "subscribed" {
			return true
		}
		s.mu.Lock()
		delete(s.pending, msg.Channel)
		done := len(s.pending) == 0
		s.mu.Unlock()
		if done {
			s.report(StatusSubscribed)
		}
	case "error":
		s.log.Warn("Push subscription refused", zap.String("channel", msg.Channel), zap.String("message", msg.Message))
		s.report(StatusChannelError)
		return false
	case "event":
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.log.Warn("Dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
			return true
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return false
		}
	}
	return true
}
