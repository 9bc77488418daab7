package repository

import (
	"context"
	"time"

	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
)

// OrderRepository is the order record store. Every method that changes stock
// does so inside its own transaction through the stock ledger.
type OrderRepository interface {
	// FindReusable returns the newest pending order of userID with cartHash
	// that already has a payment preference, or ErrNotFound.
	FindReusable(ctx context.Context, userID, cartHash string) (*domain.Order, error)

	// CreateWithReservation reserves stock, snapshots catalog prices and titles,
	// and inserts a pending order with its items in one transaction.
	CreateWithReservation(ctx context.Context, in *domain.NewOrder) (*domain.Order, error)

	// AttachPreference sets the payment preference of a pending order that has
	// none yet. It returns ErrConflict when the guard does not match.
	AttachPreference(ctx context.Context, orderID int64, preferenceID, initPoint string) error

	// GetByID retrieves an order with its items.
	GetByID(ctx context.Context, id int64) (*domain.Order, error)

	// MarkPaid moves a pending order to paid. The bool reports whether the
	// status changed.
	MarkPaid(ctx context.Context, orderID int64, paymentID string) (bool, error)

	// CancelAndRestock cancels a pending order and releases its stock. A
	// non-pending order is left alone and reports false.
	CancelAndRestock(ctx context.Context, orderID int64, reason string) (bool, error)

	// ListExpiredPending returns ids of pending orders created before the cutoff.
	ListExpiredPending(ctx context.Context, before time.Time) ([]int64, error)

	// ListByUser returns the user's orders, newest first, with the total count.
	ListByUser(ctx context.Context, userID string, page, perPage int) ([]domain.Order, int, error)

	// ListAll returns orders filtered by status ("" for all), newest first.
	ListAll(ctx context.Context, status string, page, perPage int) ([]domain.Order, int, error)

	// UpdateLogistics sets tracking code and fulfillment status on a paid order.
	UpdateLogistics(ctx context.Context, orderID int64, trackingCode, fulfillmentStatus string) (*domain.Order, error)
}

// SessionCache is a short-lived cache of checkout sessions keyed by user and
// cart fingerprint. Entries are hints; the order store is authoritative.
type SessionCache interface {
	Get(ctx context.Context, userID, cartHash string) (*domain.CheckoutSession, error)
	Save(ctx context.Context, userID, cartHash string, s *domain.CheckoutSession) error
	Delete(ctx context.Context, userID, cartHash string) error
}

// CheckoutLock serializes concurrent checkouts of the same cart by the same
// user so a double submit cannot reserve stock twice.
type CheckoutLock interface {
	// Acquire returns a release token and true when the lock was taken.
	Acquire(ctx context.Context, userID, cartHash string) (string, bool, error)
	Release(ctx context.Context, userID, cartHash, token string) error
}

// NotificationLedger remembers payment notifications that were already
// applied so redeliveries can be acknowledged without re-querying.
type NotificationLedger interface {
	Seen(ctx context.Context, paymentID, status string) (bool, error)
	Remember(ctx context.Context, paymentID, status string) error
}
