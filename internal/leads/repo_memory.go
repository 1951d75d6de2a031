package leads

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	leads map[string]Lead
}

func NewMemoryRepo(seed ...Lead) *MemoryRepo {
	r := &MemoryRepo{leads: map[string]Lead{}}
	for _, l := range seed {
		r.leads[l.ID] = l
	}
	return r
}

// Put inserts or replaces a lead.
func (r *MemoryRepo) Put(l Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads[l.ID] = l
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) ListAssigned(ctx context.Context, repID string) ([]Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Lead
	for _, l := range r.leads {
		if l.RepID == repID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *MemoryRepo) FindByPhone(ctx context.Context, phone string) (Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found Lead
		ok    bool
	)
	for _, l := range r.leads {
		if l.Phone == phone && (!ok || l.CreatedAt.After(found.CreatedAt)) {
			found, ok = l, true
		}
	}
	if !ok {
		return Lead{}, ErrNotFound
	}
	return found, nil
}

func (r *MemoryRepo) MarkDoNotContact(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return ErrNotFound
	}
	l.DoNotContact = true
	l.LastContactedAt = &at
	r.leads[id] = l
	return nil
}

func (r *MemoryRepo) TouchContact(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return ErrNotFound
	}
	l.LastContactedAt = &at
	if l.Status == StatusNew {
		l.Status = StatusContacted
	}
	r.leads[id] = l
	return nil
}
