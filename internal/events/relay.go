package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRelay fans events out across processes.
// Each session's write path stays on its owning node; the relay only carries
// the resulting events so dashboards connected to any node see them.
type RedisRelay struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	nodeID  string
	log     *slog.Logger
	timeout time.Duration
}

type envelope struct {
	Node  string `json:"node"`
	Event struct {
		Type      Type            `json:"type"`
		RepID     string          `json:"rep_id,omitempty"`
		SessionID string          `json:"session_id,omitempty"`
		Payload   json.RawMessage `json:"payload"`
		At        time.Time       `json:"ts"`
	} `json:"event"`
}

func NewRedisRelay(rdb *redis.Client, hub *Hub, channel, nodeID string, log *slog.Logger) *RedisRelay {
	if log == nil {
		log = slog.Default()
	}
	if channel == "" {
		channel = "dialer:events"
	}
	return &RedisRelay{rdb: rdb, hub: hub, channel: channel, nodeID: nodeID, log: log, timeout: 2 * time.Second}
}

// Publish delivers locally, then relays to the other nodes.
func (r *RedisRelay) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if r.hub != nil {
		r.hub.Publish(e)
	}

	data, err := json.Marshal(struct {
		Node  string `json:"node"`
		Event Event  `json:"event"`
	}{Node: r.nodeID, Event: e})
	if err != nil {
		r.log.Error("event relay encode failed", "type", e.Type, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.Warn("event relay publish failed", "type", e.Type, "err", err)
	}
}

// Run delivers events published by other nodes into the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("event relay decode failed", "err", err)
				continue
			}
			if env.Node == r.nodeID {
				continue
			}
			r.hub.Publish(Event{
				Type:      env.Event.Type,
				RepID:     env.Event.RepID,
				SessionID: env.Event.SessionID,
				Payload:   env.Event.Payload,
				At:        env.Event.At,
			})
		}
	}
}
