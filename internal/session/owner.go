package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"power-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Owner pins a rep's live session to one process. Commands for the session
// must be served by the node holding the lease.
type Owner interface {
	// Acquire returns a *ConflictError when another node holds the rep.
	Acquire(ctx context.Context, repID, sessionID string) error
	Refresh(ctx context.Context, repID, sessionID string) error
	Release(ctx context.Context, repID, sessionID string) error
}

// RedisOwner stores "<node>|<session>" under a per-rep key with a TTL kept
// alive by heartbeats.
type RedisOwner struct {
	rdb    *redis.Client
	nodeID string
	ttl    time.Duration
	prefix string
}

func NewRedisOwner(rdb *redis.Client, nodeID string, ttl time.Duration) *RedisOwner {
	return &RedisOwner{rdb: rdb, nodeID: nodeID, ttl: ttl, prefix: "dialer:session-owner:"}
}

func (o *RedisOwner) key(repID string) string { return o.prefix + repID }

func (o *RedisOwner) holder(sessionID string) string { return o.nodeID + "|" + sessionID }

func (o *RedisOwner) Acquire(ctx context.Context, repID, sessionID string) error {
	ok, cur, err := utils.AcquireLease(ctx, o.rdb, o.key(repID), o.holder(sessionID), o.ttl)
	if err != nil {
		return fmt.Errorf("session: acquire owner lease: %w", err)
	}
	if ok {
		return nil
	}
	existing := cur
	if i := strings.LastIndex(cur, "|"); i >= 0 {
		existing = cur[i+1:]
	}
	return &ConflictError{RepID: repID, ExistingSessionID: existing}
}

func (o *RedisOwner) Refresh(ctx context.Context, repID, sessionID string) error {
	ok, err := utils.RefreshLease(ctx, o.rdb, o.key(repID), o.holder(sessionID), o.ttl)
	if err != nil {
		return fmt.Errorf("session: refresh owner lease: %w", err)
	}
	if ok {
		return nil
	}
	// Lease expired (missed heartbeats); take it back if nobody else did.
	if err := o.Acquire(ctx, repID, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrNotOwner, err)
	}
	return nil
}

func (o *RedisOwner) Release(ctx context.Context, repID, sessionID string) error {
	return utils.ReleaseLease(ctx, o.rdb, o.key(repID), o.holder(sessionID))
}

// NoopOwner is used for single-process deployments.
type NoopOwner struct{}

func (NoopOwner) Acquire(context.Context, string, string) error { return nil }
func (NoopOwner) Refresh(context.Context, string, string) error { return nil }
func (NoopOwner) Release(context.Context, string, string) error { return nil }
