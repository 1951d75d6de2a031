package disposition

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu           sync.Mutex
	dispositions map[string]Disposition // by leg id
	callbacks    map[string]Callback
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{dispositions: map[string]Disposition{}, callbacks: map[string]Callback{}}
}

func (r *MemoryRepo) InsertDisposition(ctx context.Context, d Disposition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dispositions[d.LegID]; ok {
		return ErrAlreadyDispositioned
	}
	r.dispositions[d.LegID] = d
	return nil
}

func (r *MemoryRepo) GetByLeg(ctx context.Context, legID string) (Disposition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dispositions[legID]
	if !ok {
		return Disposition{}, ErrNotFound
	}
	return d, nil
}

func (r *MemoryRepo) ListByLead(ctx context.Context, leadID string, limit int) ([]Disposition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Disposition
	for _, d := range r.dispositions {
		if d.LeadID == leadID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ReplacePendingCallback(ctx context.Context, cb Callback) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.cancelLocked(cb.LeadID, cb.CreatedAt)
	r.callbacks[cb.ID] = cb
	return n, nil
}

func (r *MemoryRepo) CancelPendingForLead(ctx context.Context, leadID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(leadID, at), nil
}

func (r *MemoryRepo) cancelLocked(leadID string, at time.Time) int {
	var n int
	for id, cb := range r.callbacks {
		if cb.LeadID == leadID && cb.Status == CallbackPending {
			cb.Status = CallbackCancelled
			cb.UpdatedAt = at
			r.callbacks[id] = cb
			n++
		}
	}
	return n
}

func (r *MemoryRepo) GetCallback(ctx context.Context, id string) (Callback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[id]
	if !ok {
		return Callback{}, ErrNotFound
	}
	return cb, nil
}

func (r *MemoryRepo) TransitionCallback(ctx context.Context, id string, to CallbackStatus, callID string, at time.Time) (Callback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[id]
	if !ok {
		return Callback{}, ErrNotFound
	}
	if cb.Status != CallbackPending {
		return Callback{}, ErrCallbackNotPending
	}
	cb.Status = to
	if callID != "" {
		cb.CallID = callID
	}
	cb.UpdatedAt = at
	r.callbacks[id] = cb
	return cb, nil
}

func (r *MemoryRepo) ListPendingForLeads(ctx context.Context, leadIDs []string) ([]Callback, error) {
	want := make(map[string]bool, len(leadIDs))
	for _, id := range leadIDs {
		want[id] = true
	}
	return r.pending(func(cb Callback) bool { return want[cb.LeadID] }), nil
}

func (r *MemoryRepo) ListPendingForRep(ctx context.Context, repID string) ([]Callback, error) {
	return r.pending(func(cb Callback) bool { return cb.RepID == repID }), nil
}

func (r *MemoryRepo) ListPendingDue(ctx context.Context, before time.Time, limit int) ([]Callback, error) {
	out := r.pending(func(cb Callback) bool { return !cb.ScheduledAt.After(before) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) pending(keep func(Callback) bool) []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Callback
	for _, cb := range r.callbacks {
		if cb.Status == CallbackPending && keep(cb) {
			out = append(out, cb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}
