package gateway

import (
	"context"
)

// PreferenceItem is one line of a hosted checkout. UnitPrice is in cents.
type PreferenceItem struct {
	ID          string
	Title       string
	Description string
	PictureURL  string
	Quantity    int
	UnitPrice   int64
}

// Identification is a payer's tax document.
type Identification struct {
	Type   string
	Number string
}

// Payer describes the buyer as the gateway expects it.
type Payer struct {
	Name           string
	Surname        string
	Email          string
	Identification *Identification
}

// PreferenceRequest holds the parameters for opening a hosted checkout for
// an order. OrderID travels as the external reference.
type PreferenceRequest struct {
	OrderID int64
	Items   []PreferenceItem
	Payer   *Payer
}

// Preference is a created hosted checkout session.
type Preference struct {
	ID        string
	InitPoint string
}

// Payment is the gateway's authoritative view of a payment.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            int64
}

// Gateway defines the interface for payment gateway integrations.
type Gateway interface {
	// Name returns the gateway name (e.g., "mock", "mercadopago").
	Name() string

	// CreatePreference opens a hosted checkout session for an order.
	CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error)

	// GetPayment fetches the current state of a payment.
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}
