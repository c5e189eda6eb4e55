/**
 * @description
 * This file provides a Redis-backed implementation of the ApprovalLock
 * interface. Each host gets a short-lived SETNX lock for the duration of one
 * approval, so two operators hitting approve on the same host's requests at
 * the same moment serialize instead of racing the balance check.
 *
 * The release script compares the stored token before deleting, so an
 * approval that outlives its TTL cannot release a lock a later approval now
 * holds.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisApprovalLock implements ApprovalLock on a Redis instance.
type RedisApprovalLock struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisApprovalLock creates a lock with the given key prefix and TTL.
// Defaults: prefix "approval_lock", TTL 30s.
func NewRedisApprovalLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisApprovalLock {
	if prefix == "" {
		prefix = "approval_lock"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisApprovalLock{client: client, prefix: prefix, ttl: ttl}
}

// Acquire takes the per-host lock. ok=false means another approval holds it.
func (l *RedisApprovalLock) Acquire(ctx context.Context, hostID string) (func(), bool, error) {
	key := l.prefix + ":" + hostID
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		// Releasing uses a background context so cancellation of the approval
		// does not leak the lock until TTL expiry.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(relCtx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.Printf("level=warn component=approval_lock msg=\"lock release failed; will expire via ttl\" key=%s err=%v", key, err)
		}
	}
	return release, true, nil
}
