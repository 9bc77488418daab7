package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

const notificationKeyPrefix = "webhook:payment:"

var _ repository.NotificationLedger = (*NotificationLedger)(nil)

// NotificationLedger implements repository.NotificationLedger using Redis.
type NotificationLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewNotificationLedger creates a Redis-backed ledger of applied payment
// notifications.
func NewNotificationLedger(client *redis.Client, ttl time.Duration) *NotificationLedger {
	return &NotificationLedger{
		client: client,
		ttl:    ttl,
	}
}

func notificationKey(paymentID, status string) string {
	return notificationKeyPrefix + paymentID + ":" + status
}

// Seen reports whether the payment was already applied with this status.
func (l *NotificationLedger) Seen(ctx context.Context, paymentID, status string) (bool, error) {
	n, err := l.client.Exists(ctx, notificationKey(paymentID, status)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists notification: %w", err)
	}
	return n > 0, nil
}

// Remember records that the payment was applied with this status.
func (l *NotificationLedger) Remember(ctx context.Context, paymentID, status string) error {
	if err := l.client.Set(ctx, notificationKey(paymentID, status), time.Now().UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set notification: %w", err)
	}
	return nil
}
