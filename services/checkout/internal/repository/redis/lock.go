package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

const lockKeyPrefix = "checkout:lock:"

var _ repository.CheckoutLock = (*CheckoutLock)(nil)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CheckoutLock implements repository.CheckoutLock with SET NX.
type CheckoutLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCheckoutLock creates a lock whose entries expire after ttl, so a crashed
// holder never blocks a cart for longer than that.
func NewCheckoutLock(client *redis.Client, ttl time.Duration) *CheckoutLock {
	return &CheckoutLock{client: client, ttl: ttl}
}

func lockKey(userID, cartHash string) string {
	return lockKeyPrefix + userID + ":" + cartHash
}

// Acquire takes the lock for the user's cart. ok is false when another
// checkout holds it.
func (l *CheckoutLock) Acquire(ctx context.Context, userID, cartHash string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(userID, cartHash), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx checkout lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it.
func (l *CheckoutLock) Release(ctx context.Context, userID, cartHash, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey(userID, cartHash)}, token).Err(); err != nil {
		return fmt.Errorf("redis release checkout lock: %w", err)
	}
	return nil
}
