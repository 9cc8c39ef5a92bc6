// Package tokenledger records which single-use tokens have been consumed.
//
// Signed tokens are stateless, so nothing in the token itself stops a confirm
// or reset link from being clicked twice. The ledger stores each consumed
// token ID (jti) in Redis with SETNX until the token would have expired
// anyway; a second SETNX on the same ID fails and the caller rejects the
// replay.
package tokenledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "social-blog:token:used:"

// Ledger is nil-safe: a nil *Ledger, or one built with a nil client, accepts
// every token, leaving expiry as the only limit.
type Ledger struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Ledger {
	return &Ledger{rdb: rdb}
}

// Enabled reports whether consumption is actually recorded.
func (l *Ledger) Enabled() bool {
	return l != nil && l.rdb != nil
}

// Consume marks jti as used for ttl. It returns false when jti was already
// consumed. A non-positive ttl is raised to one second so the key always
// expires.
func (l *Ledger) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if !l.Enabled() || jti == "" {
		return true, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := l.rdb.SetNX(ctx, keyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("tokenledger setnx: %w", err)
	}
	return ok, nil
}

// Release forgets jti. Services call it when the action a token authorised
// failed after the token was consumed, so the user can retry the link.
func (l *Ledger) Release(ctx context.Context, jti string) error {
	if !l.Enabled() || jti == "" {
		return nil
	}
	if err := l.rdb.Del(ctx, keyPrefix+jti).Err(); err != nil {
		return fmt.Errorf("tokenledger del: %w", err)
	}
	return nil
}
