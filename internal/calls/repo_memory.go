package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	legs   map[string]Leg
	events []LegEvent
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{legs: map[string]Leg{}} }

func (r *MemoryRepo) InsertLeg(ctx context.Context, l Leg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.legs[l.ID]; ok {
		return errors.New("calls: duplicate leg id")
	}
	r.legs[l.ID] = l.Clone()
	return nil
}

func (r *MemoryRepo) SaveTransition(ctx context.Context, l Leg, e LegEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.legs[l.ID]
	if !ok || cur.State.Terminal() {
		return ErrNotFound
	}
	cur.State = l.State
	cur.ConnectedAt = l.Clone().ConnectedAt
	cur.EndedAt = l.Clone().EndedAt
	cur.LastEventAt = l.LastEventAt
	r.legs[l.ID] = cur
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) UpdateFlags(ctx context.Context, l Leg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.legs[l.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Bridged, cur.Dropped, cur.Held = l.Bridged, l.Dropped, l.Held
	r.legs[l.ID] = cur
	return nil
}

func (r *MemoryRepo) SetDisposition(ctx context.Context, legID, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.legs[legID]
	if !ok {
		return ErrNotFound
	}
	if cur.DispositionResult == "" {
		cur.DispositionResult = result
		r.legs[legID] = cur
	}
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, legID string) (Leg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.legs[legID]
	if !ok {
		return Leg{}, ErrNotFound
	}
	return l.Clone(), nil
}

func (r *MemoryRepo) ListByLead(ctx context.Context, leadID string, limit int) ([]Leg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Leg
	for _, l := range r.legs {
		if l.LeadID == leadID {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns the transition history in append order.
func (r *MemoryRepo) Events() []LegEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LegEvent, len(r.events))
	copy(out, r.events)
	return out
}
