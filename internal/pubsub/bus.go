package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"caseflow/internal/backend"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const prefix = "caseflow:"

// Bus fans row changes out to this instance's WebSocket hub and, through
// Redis, to every other instance
type Bus struct {
	rdb    *redis.Client
	log    *zap.Logger
	wsHub  WSHub
	origin string
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

// envelope is the Redis payload; Origin lets an instance skip its own echo
type envelope struct {
	Origin  string        `json:"origin"`
	Channel string        `json:"channel"`
	Event   backend.Event `json:"event"`
}

// New creates a bus. A nil client keeps delivery local to this process.
func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		log:    log,
		origin: ulid.Make().String(),
	}
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// PublishChange announces an insert, update or delete of one row
func (b *Bus) PublishChange(ctx context.Context, table string, eventType backend.EventType, row interface{}, filter string) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	env := envelope{
		Origin:  b.origin,
		Channel: backend.ChannelName(table, filter),
		Event:   backend.Event{Table: table, Type: eventType, Row: raw},
	}

	b.deliver(env)

	if b.rdb == nil {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, prefix+env.Channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", env.Channel), zap.Error(err))
		return err
	}

	b.log.Debug("Published event", zap.String("channel", env.Channel), zap.String("type", string(eventType)))
	return nil
}

// Listen relays changes published by other instances until ctx is done
func (b *Bus) Listen(ctx context.Context) error {
	if b.rdb == nil {
		<-ctx.Done()
		return nil
	}
	sub := b.rdb.PSubscribe(ctx, prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	b.log.Info("Listening for remote changes")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleRemote(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *Bus) handleRemote(channel string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.Warn("Dropping malformed event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	if env.Channel == "" {
		env.Channel = strings.TrimPrefix(channel, prefix)
	}
	b.deliver(env)
}

func (b *Bus) deliver(env envelope) {
	if b.wsHub == nil {
		return
	}
	b.wsHub.Publish(env.Channel, map[string]interface{}{
		"type":    "event",
		"channel": env.Channel,
		"data":    env.Event,
	})
}
