package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrHubClosed      = errors.New("events: hub closed")
	ErrInvalidSubject = errors.New("events: rep_id required for non-admin subscriptions")
)

type HubConfig struct {
	// Buffer is the per-subscriber channel size.
	Buffer int
	// Heartbeat is the interval between liveness pings.
	Heartbeat time.Duration
	// MissedLimit removes a subscriber after this many consecutive undeliverable sends.
	MissedLimit int
}

func (c HubConfig) withDefaults() HubConfig {
	out := c
	if out.Buffer <= 0 {
		out.Buffer = 32
	}
	if out.Heartbeat <= 0 {
		out.Heartbeat = 15 * time.Second
	}
	if out.MissedLimit <= 0 {
		out.MissedLimit = 3
	}
	return out
}

// SubscribeOptions selects what a dashboard connection receives.
type SubscribeOptions struct {
	RepID string
	// Admin subscribers see events for every rep.
	Admin bool
	// Producer claims the rep's single producer slot for UI-only events.
	// The newest producer wins and the previous one is demoted to consumer.
	Producer bool
}

// Subscriber is one live dashboard connection.
type Subscriber struct {
	ID    string
	RepID string
	Admin bool

	ch     chan Event
	missed int
	closed bool
}

// C is closed when the hub drops the subscriber.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Hub is the dashboard connection registry.
// Session state lives in the session manager; a subscriber only carries a channel.
type Hub struct {
	cfg HubConfig
	log *slog.Logger

	mu        sync.RWMutex
	subs      map[string]*Subscriber
	byRep     map[string]map[string]*Subscriber
	admins    map[string]*Subscriber
	producers map[string]string // repID -> subscriber id
	closed    bool
}

func NewHub(cfg HubConfig, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cfg:       cfg.withDefaults(),
		log:       log,
		subs:      map[string]*Subscriber{},
		byRep:     map[string]map[string]*Subscriber{},
		admins:    map[string]*Subscriber{},
		producers: map[string]string{},
	}
}

func (h *Hub) Subscribe(opts SubscribeOptions) (*Subscriber, error) {
	if !opts.Admin && opts.RepID == "" {
		return nil, ErrInvalidSubject
	}

	s := &Subscriber{
		ID:    uuid.NewString(),
		RepID: opts.RepID,
		Admin: opts.Admin,
		ch:    make(chan Event, h.cfg.Buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	h.subs[s.ID] = s
	if s.Admin {
		h.admins[s.ID] = s
	} else {
		if h.byRep[s.RepID] == nil {
			h.byRep[s.RepID] = map[string]*Subscriber{}
		}
		h.byRep[s.RepID][s.ID] = s
	}

	if opts.Producer && !opts.Admin {
		if prev, ok := h.producers[s.RepID]; ok && prev != s.ID {
			if old := h.subs[prev]; old != nil {
				h.sendLocked(old, New(TypeSessionUpdate, s.RepID, "", map[string]any{"producer": false}))
			}
			h.log.Info("dashboard producer replaced", "rep_id", s.RepID, "previous", prev, "current", s.ID)
		}
		h.producers[s.RepID] = s.ID
	}
	return s, nil
}

// Unsubscribe removes a subscriber. It is safe to call more than once.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

// IsProducer reports whether subID currently holds repID's producer slot.
func (h *Hub) IsProducer(repID, subID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return subID != "" && h.producers[repID] == subID
}

// Count returns the number of rep-scoped subscribers for repID.
func (h *Hub) Count(repID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRep[repID])
}

// Publish delivers e to every subscriber of e.RepID and to all admins.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, s := range h.byRep[e.RepID] {
		h.sendLocked(s, e)
	}
	for _, s := range h.admins {
		h.sendLocked(s, e)
	}
}

// Heartbeat pings every subscriber once and drops the ones that stopped reading.
func (h *Hub) Heartbeat(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, s := range h.subs {
		h.sendLocked(s, Event{
			Type:    TypeSessionUpdate,
			RepID:   s.RepID,
			Payload: map[string]any{"connected": true},
			At:      now.UTC(),
		})
	}
}

// Run sends heartbeats until ctx is done, then closes the hub.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case now := <-t.C:
			h.Heartbeat(now)
		}
	}
}

// Close drops every subscriber. Later Subscribe calls fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id := range h.subs {
		h.removeLocked(id)
	}
	h.closed = true
}

func (h *Hub) sendLocked(s *Subscriber, e Event) {
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
		s.missed = 0
	default:
		s.missed++
		if s.missed >= h.cfg.MissedLimit {
			h.log.Warn("dashboard subscriber dropped", "subscriber_id", s.ID, "rep_id", s.RepID, "missed", s.missed)
			h.removeLocked(s.ID)
		}
	}
}

func (h *Hub) removeLocked(id string) {
	s, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	delete(h.admins, id)
	if m := h.byRep[s.RepID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(h.byRep, s.RepID)
		}
	}
	if h.producers[s.RepID] == id {
		delete(h.producers, s.RepID)
	}
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
