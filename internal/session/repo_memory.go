package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{sessions: map[string]Session{}} }

func (r *MemoryRepo) Insert(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return errors.New("session: duplicate id")
	}
	if s.IsActive {
		for _, cur := range r.sessions {
			if cur.RepID == s.RepID && cur.IsActive {
				return ErrSessionConflict
			}
		}
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepo) EndActiveForRep(ctx context.Context, repID string, at time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for id, s := range r.sessions {
		if s.RepID != repID || !s.IsActive {
			continue
		}
		t := at
		s.IsActive = false
		s.EndedAt = &t
		s.EndReason = reason
		r.sessions[id] = s
		n++
	}
	return n, nil
}
