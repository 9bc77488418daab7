package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Order status constants.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
)

// Fulfillment status constants. They are operator-driven and only move once
// the order is paid.
const (
	FulfillmentUnfulfilled = "unfulfilled"
	FulfillmentShipped     = "shipped"
	FulfillmentDelivered   = "delivered"
)

// Cancel reasons recorded on orders and in stock movements.
const (
	CancelReasonGatewayError  = "gateway_error"
	CancelReasonExpired       = "expired"
	CancelReasonUserCancelled = "user_cancelled"
)

// Order is a customer order together with its payment-session linkage.
type Order struct {
	ID                int64       `json:"id"`
	UserID            string      `json:"user_id"`
	AddressID         int64       `json:"address_id"`
	Status            string      `json:"status"`
	TotalAmount       int64       `json:"total_amount"`
	CartHash          string      `json:"cart_hash,omitempty"`
	PreferenceID      string      `json:"mp_preference_id,omitempty"`
	InitPoint         string      `json:"mp_init_point,omitempty"`
	PaymentID         string      `json:"mp_payment_id,omitempty"`
	CancelReason      string      `json:"cancel_reason,omitempty"`
	TrackingCode      string      `json:"tracking_code,omitempty"`
	FulfillmentStatus string      `json:"fulfillment_status"`
	Items             []OrderItem `json:"items"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// OrderItem is a line item. Title and UnitPrice are a snapshot of the catalog
// taken when the order was created.
type OrderItem struct {
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// LineTotal returns the total price for this line item in cents.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// NewOrder is the input for creating a pending order with reserved stock.
type NewOrder struct {
	UserID    string
	AddressID int64
	CartHash  string
	Items     []CartItem
}

// IsPending reports whether the order can still change status.
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// CanTransition reports whether an order may move from one status to another.
// Only pending orders move, and only to paid or cancelled.
func CanTransition(from, to string) bool {
	return from == OrderStatusPending && (to == OrderStatusPaid || to == OrderStatusCancelled)
}

// IsValidStatus checks if a status string is a known order status.
func IsValidStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCancelled:
		return true
	}
	return false
}

// CanFulfill reports whether fulfillment may move from one status to another:
// unfulfilled to shipped to delivered, or staying where it is.
func CanFulfill(from, to string) bool {
	if from == "" {
		from = FulfillmentUnfulfilled
	}
	if from == to {
		return true
	}
	switch from {
	case FulfillmentUnfulfilled:
		return to == FulfillmentShipped || to == FulfillmentDelivered
	case FulfillmentShipped:
		return to == FulfillmentDelivered
	}
	return false
}

// ReleaseReason builds the stock movement reason for a cancellation.
func ReleaseReason(cancelReason string) string {
	return "release:" + cancelReason
}

// PaymentCancelReason builds the cancel reason for a terminal gateway status.
func PaymentCancelReason(gatewayStatus string) string {
	return "payment_" + gatewayStatus
}

// FormatCents renders cents as a decimal string with two places, the format
// NUMERIC(12,2) columns accept.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseCents parses a decimal amount such as "129.90" into cents.
func ParseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse amount: empty")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("parse amount %q: more than two decimal places", s)
	}
	frac += strings.Repeat("0", 2-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}

	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// CentsToUnits converts cents to a decimal amount for gateway payloads.
func CentsToUnits(cents int64) float64 {
	return float64(cents) / 100
}
