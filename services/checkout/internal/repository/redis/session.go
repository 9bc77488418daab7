package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

const sessionKeyPrefix = "checkout:idem:"

var _ repository.SessionCache = (*SessionCache)(nil)

// SessionCache implements repository.SessionCache using Redis.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionCache creates a Redis-backed checkout session cache. Entries
// expire after ttl, which should not exceed the pending order timeout.
func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	return &SessionCache{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(userID, cartHash string) string {
	return sessionKeyPrefix + userID + ":" + cartHash
}

// Get returns the cached session for the user and cart, or ErrNotFound.
func (c *SessionCache) Get(ctx context.Context, userID, cartHash string) (*domain.CheckoutSession, error) {
	data, err := c.client.Get(ctx, sessionKey(userID, cartHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("redis get checkout session: %w", err)
	}

	var s domain.CheckoutSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	return &s, nil
}

// Save stores the session with the configured TTL.
func (c *SessionCache) Save(ctx context.Context, userID, cartHash string, s *domain.CheckoutSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal checkout session: %w", err)
	}

	if err := c.client.Set(ctx, sessionKey(userID, cartHash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkout session: %w", err)
	}
	return nil
}

// Delete evicts the session for the user and cart.
func (c *SessionCache) Delete(ctx context.Context, userID, cartHash string) error {
	if err := c.client.Del(ctx, sessionKey(userID, cartHash)).Err(); err != nil {
		return fmt.Errorf("redis del checkout session: %w", err)
	}
	return nil
}
