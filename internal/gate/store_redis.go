package gate

import (
	"context"
	"time"

	"screening-gateway/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the lock table in Redis so a future multi-process
// deployment can share lock visibility. Watchers stay process-local either
// way; this store only widens who can see a held lock.
type RedisStore struct {
	rdb    *redis.Client
	prefix string

	// ttl caps how long a lock can outlive a crashed process. Should exceed
	// the watch ceiling with margin.
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisStore{rdb: rdb, prefix: "gate:agent:", ttl: ttl}
}

func (s *RedisStore) key(agentID string) string { return s.prefix + agentID }

func (s *RedisStore) TryInsert(ctx context.Context, l Lock) (bool, Lock, error) {
	ok, err := utils.TryInsertAgentLock(ctx, s.rdb, s.key(l.AgentID), l.AgentID, l.CallID, l.AcquiredAt, s.ttl)
	if err != nil {
		return false, Lock{}, err
	}
	if ok {
		return true, Lock{}, nil
	}
	// Best-effort read of the blocking entry; it may expire between the
	// script and this read, which still counts as a rejection.
	cur, _, err := s.Get(ctx, l.AgentID)
	if err != nil {
		return false, Lock{AgentID: l.AgentID}, nil
	}
	return false, cur, nil
}

func (s *RedisStore) Get(ctx context.Context, agentID string) (Lock, bool, error) {
	fields, ok, err := utils.GetAgentLock(ctx, s.rdb, s.key(agentID))
	if err != nil || !ok {
		return Lock{}, false, err
	}
	l := Lock{AgentID: fields["agent_id"], CallID: fields["call_id"]}
	if l.AgentID == "" {
		l.AgentID = agentID
	}
	if at, perr := time.Parse(time.RFC3339Nano, fields["acquired_at"]); perr == nil {
		l.AcquiredAt = at
	}
	return l, true, nil
}

func (s *RedisStore) AttachCallID(ctx context.Context, agentID, callID string) (bool, error) {
	return utils.AttachAgentLockCall(ctx, s.rdb, s.key(agentID), callID)
}

func (s *RedisStore) Delete(ctx context.Context, agentID string) (bool, error) {
	return utils.DeleteAgentLock(ctx, s.rdb, s.key(agentID))
}
