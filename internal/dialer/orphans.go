package dialer

import (
	"sort"
	"time"

	"power-dialer/internal/calls"
)

// orphanEvent is a provider callback that arrived before its leg was registered.
type orphanEvent struct {
	state    calls.State
	at       time.Time
	received time.Time
}

// orphanBuffer holds early callbacks for a short TTL. Not safe for concurrent
// use; the coordinator guards it with its registry lock.
type orphanBuffer struct {
	ttl    time.Duration
	max    int
	events map[string][]orphanEvent
}

func newOrphanBuffer(ttl time.Duration, max int) *orphanBuffer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if max <= 0 {
		max = 10000
	}
	return &orphanBuffer{ttl: ttl, max: max, events: map[string][]orphanEvent{}}
}

func (o *orphanBuffer) stash(legID string, state calls.State, at, now time.Time) {
	o.prune(now)
	if len(o.events) >= o.max {
		return
	}
	o.events[legID] = append(o.events[legID], orphanEvent{state: state, at: at, received: now})
}

// take removes and returns the live events for legID, oldest first.
func (o *orphanBuffer) take(legID string, now time.Time) []orphanEvent {
	evs := o.events[legID]
	delete(o.events, legID)
	out := evs[:0]
	for _, e := range evs {
		if now.Sub(e.received) <= o.ttl {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func (o *orphanBuffer) prune(now time.Time) {
	for id, evs := range o.events {
		keep := evs[:0]
		for _, e := range evs {
			if now.Sub(e.received) <= o.ttl {
				keep = append(keep, e)
			}
		}
		if len(keep) == 0 {
			delete(o.events, id)
			continue
		}
		o.events[id] = keep
	}
}

func (o *orphanBuffer) len() int { return len(o.events) }
