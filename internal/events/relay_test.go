package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisRelay_DeliversAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	hubA := NewHub(HubConfig{}, nil)
	hubB := NewHub(HubConfig{}, nil)
	relayA := NewRedisRelay(rdbA, hubA, "test:events", "node-a", nil)
	relayB := NewRedisRelay(rdbB, hubB, "test:events", "node-b", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relayA.Run(ctx) }()
	go func() { _ = relayB.Run(ctx) }()

	local, _ := hubA.Subscribe(SubscribeOptions{RepID: "r1"})
	remote, _ := hubB.Subscribe(SubscribeOptions{Admin: true})

	// Subscriptions are established asynchronously; publish until one lands remotely.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		relayA.Publish(New(TypeCallStatus, "r1", "s1", map[string]any{"leg_id": "CA1"}))
		select {
		case e := <-remote.C():
			if e.Type != TypeCallStatus || e.RepID != "r1" || e.SessionID != "s1" {
				t.Fatalf("unexpected relayed event %+v", e)
			}
			if got := recv(t, local); got.Type != TypeCallStatus {
				t.Fatalf("expected local delivery too, got %+v", got)
			}
			return
		case <-deadline:
			t.Fatalf("event never relayed")
		case <-tick.C:
		}
	}
}
