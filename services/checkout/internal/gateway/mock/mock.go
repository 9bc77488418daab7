// Package mock provides an in-memory payment gateway for local development
// and tests.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/gateway"
)

// Name is the gateway name used in configuration.
const Name = "mock"

var _ gateway.Gateway = (*Gateway)(nil)

// Gateway is a payment gateway that keeps preferences and payments in memory.
// Payments only exist once SetPayment has been called for them.
type Gateway struct {
	siteURL string

	mu          sync.RWMutex
	preferences map[string]*gateway.PreferenceRequest
	payments    map[string]*gateway.Payment
	failNext    error
}

// New creates a mock gateway. Init points redirect to siteURL.
func New(siteURL string) *Gateway {
	return &Gateway{
		siteURL:     strings.TrimRight(siteURL, "/"),
		preferences: make(map[string]*gateway.PreferenceRequest),
		payments:    make(map[string]*gateway.Payment),
	}
}

// Name returns the gateway name.
func (g *Gateway) Name() string {
	return Name
}

// CreatePreference records the request and returns a preference whose init
// point lands on the storefront's pending page.
func (g *Gateway) CreatePreference(_ context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	id := "mock_pref_" + uuid.NewString()
	cpy := *req
	g.preferences[id] = &cpy

	return &gateway.Preference{
		ID:        id,
		InitPoint: fmt.Sprintf("%s/pending?preference_id=%s&external_reference=%d", g.siteURL, id, req.OrderID),
	}, nil
}

// GetPayment returns a payment previously registered with SetPayment.
func (g *Gateway) GetPayment(_ context.Context, paymentID string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	p, ok := g.payments[paymentID]
	if !ok {
		return nil, apperrors.GatewayFailure(fmt.Sprintf("payment gateway could not return payment %s", paymentID), apperrors.ErrNotFound)
	}
	cpy := *p
	return &cpy, nil
}

// SetPayment creates or updates a payment for an order. An empty paymentID
// allocates a new one. The payment amount is the preference total when the
// order has one.
func (g *Gateway) SetPayment(paymentID string, orderID int64, status string) *gateway.Payment {
	g.mu.Lock()
	defer g.mu.Unlock()

	if paymentID == "" {
		paymentID = "mock_pay_" + uuid.NewString()
	}

	ref := strconv.FormatInt(orderID, 10)
	var amount int64
	for _, req := range g.preferences {
		if req.OrderID != orderID {
			continue
		}
		for _, it := range req.Items {
			amount += domain.OrderItem{Quantity: it.Quantity, UnitPrice: it.UnitPrice}.LineTotal()
		}
		break
	}

	p := &gateway.Payment{
		ID:                paymentID,
		Status:            status,
		ExternalReference: ref,
		Amount:            amount,
	}
	if orderID <= 0 {
		p.ExternalReference = ""
	}
	g.payments[paymentID] = p

	cpy := *p
	return &cpy
}

// Preference returns the request recorded for a preference id.
func (g *Gateway) Preference(id string) (*gateway.PreferenceRequest, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	req, ok := g.preferences[id]
	return req, ok
}

// FailNext makes the next gateway call return err.
func (g *Gateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *Gateway) takeFailure() error {
	err := g.failNext
	g.failNext = nil
	return err
}
