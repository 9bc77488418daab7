package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/pkg/logger"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/gateway"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

// CircuitOpenFallback is the fallback for the gateway circuit breaker. While
// the circuit is open it returns a retry hint instead of ErrCircuitOpen.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("payment gateway is temporarily unavailable, please retry in a few seconds")
}

// CreatePreferenceInput is the checkout request sent by the storefront.
type CreatePreferenceInput struct {
	Items    []PreferenceItemInput `json:"items" validate:"required,min=1,max=50,dive"`
	Metadata PreferenceMetadata    `json:"metadata"`
}

// PreferenceItemInput is one cart line. Title, description, picture and
// price are display hints; the order always uses the catalog snapshot.
type PreferenceItemInput struct {
	ID          json.Number `json:"id" validate:"required"`
	Title       string      `json:"title" validate:"max=255"`
	Description string      `json:"description" validate:"max=1000"`
	PictureURL  string      `json:"picture_url" validate:"omitempty,url"`
	Quantity    int         `json:"quantity" validate:"required,gt=0,lte=100"`
	UnitPrice   float64     `json:"unit_price" validate:"gte=0"`
}

// PreferenceMetadata carries the buyer and the delivery address.
type PreferenceMetadata struct {
	UserID    string     `json:"user_id"`
	AddressID int64      `json:"address_id" validate:"required,gt=0"`
	Payer     PayerInput `json:"payer"`
}

// PayerInput identifies the buyer to the gateway.
type PayerInput struct {
	Name           string              `json:"name" validate:"max=100"`
	Surname        string              `json:"surname" validate:"max=100"`
	Email          string              `json:"email" validate:"required,email"`
	Identification IdentificationInput `json:"identification"`
}

// IdentificationInput is the buyer's tax document, e.g. a CPF.
type IdentificationInput struct {
	Type   string `json:"type" validate:"omitempty,max=20"`
	Number string `json:"number" validate:"omitempty,digits,max=20"`
}

// CheckoutResult is what the storefront needs to redirect the buyer.
type CheckoutResult struct {
	OrderID      int64  `json:"order_id"`
	PreferenceID string `json:"preference_id"`
	InitPoint    string `json:"init_point"`
	Reused       bool   `json:"reused"`
}

const defaultLockPoll = 100 * time.Millisecond

// CheckoutService turns carts into pending orders with a payment session.
type CheckoutService struct {
	repo     repository.OrderRepository
	cache    repository.SessionCache
	gateway  gateway.Gateway
	producer *event.Producer
	logger   *slog.Logger

	lock     repository.CheckoutLock
	lockWait time.Duration
	lockPoll time.Duration
}

// NewCheckoutService creates a new checkout service. cache may be nil.
func NewCheckoutService(
	repo repository.OrderRepository,
	cache repository.SessionCache,
	gw gateway.Gateway,
	producer *event.Producer,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		repo:     repo,
		cache:    cache,
		gateway:  gw,
		producer: producer,
		logger:   logger,
		lockPoll: defaultLockPoll,
	}
}

// WithLock serializes checkouts of the same cart through lock. A duplicate
// submit waits up to wait for the first one and then reuses its order.
func (s *CheckoutService) WithLock(lock repository.CheckoutLock, wait time.Duration) *CheckoutService {
	s.lock = lock
	s.lockWait = wait
	return s
}

// CreatePreference resolves a checkout for the user's cart. An identical
// cart with a pending order reuses that order's payment session. Concurrent
// submits of the same cart are serialized when a lock is set. Otherwise
// stock is reserved, an order is created and a new session is opened. When
// the gateway fails the reservation is released before the error surfaces.
func (s *CheckoutService) CreatePreference(ctx context.Context, userID string, input *CreatePreferenceInput) (*CheckoutResult, error) {
	items, err := s.validate(userID, input)
	if err != nil {
		CheckoutRequests.WithLabelValues(checkoutRejected).Inc()
		return nil, err
	}

	cartHash := domain.CartFingerprint(items)

	if res := s.cachedSession(ctx, userID, cartHash); res != nil {
		CheckoutRequests.WithLabelValues(checkoutReused).Inc()
		return res, nil
	}

	release, err := s.lockCart(ctx, userID, cartHash)
	if err != nil {
		CheckoutRequests.WithLabelValues(checkoutRejected).Inc()
		return nil, err
	}
	defer release()

	existing, err := s.repo.FindReusable(ctx, userID, cartHash)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "reusing pending order for identical cart",
			slog.Int64("order_id", existing.ID),
			slog.String("cart_hash", cartHash),
		)
		session := domain.SessionOf(existing)
		s.remember(ctx, userID, cartHash, session)
		CheckoutRequests.WithLabelValues(checkoutReused).Inc()
		return resultOf(session, true), nil
	case !errors.Is(err, apperrors.ErrNotFound):
		CheckoutRequests.WithLabelValues(checkoutError).Inc()
		return nil, fmt.Errorf("find reusable order: %w", err)
	}

	order, err := s.repo.CreateWithReservation(ctx, &domain.NewOrder{
		UserID:    userID,
		AddressID: input.Metadata.AddressID,
		CartHash:  cartHash,
		Items:     items,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInsufficientStock):
			CheckoutRequests.WithLabelValues(checkoutInsufficientStock).Inc()
		case errors.Is(err, apperrors.ErrInvalidInput):
			CheckoutRequests.WithLabelValues(checkoutRejected).Inc()
		default:
			CheckoutRequests.WithLabelValues(checkoutError).Inc()
		}
		return nil, err
	}

	ctx = logger.WithOrderID(ctx, order.ID)

	pref, err := s.gateway.CreatePreference(ctx, buildPreferenceRequest(order, input))
	if err != nil {
		CheckoutRequests.WithLabelValues(checkoutGatewayError).Inc()
		s.logger.ErrorContext(ctx, "payment preference creation failed",
			slog.Int64("order_id", order.ID),
			slog.String("gateway", s.gateway.Name()),
			slog.String("error", err.Error()),
		)
		s.compensate(ctx, order.ID)
		if status := apperrors.HTTPStatus(err); status < http.StatusInternalServerError {
			// Gateway rejections always surface as 502.
			return nil, apperrors.GatewayFailure("payment gateway rejected the checkout", err)
		}
		return nil, err
	}

	if err := s.repo.AttachPreference(ctx, order.ID, pref.ID, pref.InitPoint); err != nil {
		CheckoutRequests.WithLabelValues(checkoutError).Inc()
		s.logger.ErrorContext(ctx, "failed to attach payment preference",
			slog.Int64("order_id", order.ID),
			slog.String("preference_id", pref.ID),
			slog.String("error", err.Error()),
		)
		s.compensate(ctx, order.ID)
		return nil, fmt.Errorf("attach preference to order %d: %w", order.ID, err)
	}
	order.PreferenceID = pref.ID
	order.InitPoint = pref.InitPoint

	session := domain.SessionOf(order)
	s.remember(ctx, userID, cartHash, session)

	if err := s.producer.PublishOrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.Int64("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	CheckoutRequests.WithLabelValues(checkoutCreated).Inc()
	s.logger.InfoContext(ctx, "checkout created",
		slog.Int64("order_id", order.ID),
		slog.Int64("total_amount", order.TotalAmount),
		slog.String("preference_id", pref.ID),
	)

	return resultOf(session, false), nil
}

// validate checks the request before anything is mutated and returns the
// cart as product id and quantity pairs.
func (s *CheckoutService) validate(userID string, input *CreatePreferenceInput) ([]domain.CartItem, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("user id is required")
	}
	if input == nil {
		return nil, apperrors.InvalidInput("checkout input is required")
	}
	if input.Metadata.UserID != "" && input.Metadata.UserID != userID {
		return nil, apperrors.Forbidden("metadata.user_id does not match the authenticated user")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.InvalidInput("cart is empty")
	}
	if input.Metadata.AddressID <= 0 {
		return nil, apperrors.InvalidInput("metadata.address_id is required")
	}
	if email := strings.TrimSpace(input.Metadata.Payer.Email); email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.InvalidInput("metadata.payer.email is invalid")
	}

	items := make([]domain.CartItem, 0, len(input.Items))
	for i, it := range input.Items {
		id, err := strconv.ParseInt(it.ID.String(), 10, 64)
		if err != nil || id <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %d: id must be a positive product id", i))
		}
		if it.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %d: quantity must be greater than zero", i))
		}
		items = append(items, domain.CartItem{ProductID: id, Quantity: it.Quantity})
	}
	return items, nil
}

// lockCart takes the per-cart lock, polling while another checkout of the
// same cart holds it. The lock is best effort: when the lock store fails the
// checkout goes ahead unlocked.
func (s *CheckoutService) lockCart(ctx context.Context, userID, cartHash string) (func(), error) {
	noop := func() {}
	if s.lock == nil {
		return noop, nil
	}

	deadline := time.Now().Add(s.lockWait)
	for {
		token, ok, err := s.lock.Acquire(ctx, userID, cartHash)
		if err != nil {
			s.logger.WarnContext(ctx, "checkout lock unavailable, continuing without it",
				slog.String("error", err.Error()),
			)
			return noop, nil
		}
		if ok {
			return func() {
				if err := s.lock.Release(context.WithoutCancel(ctx), userID, cartHash, token); err != nil {
					s.logger.WarnContext(ctx, "failed to release checkout lock", slog.String("error", err.Error()))
				}
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, apperrors.Conflict("a checkout for this cart is already in progress")
		}

		timer := time.NewTimer(s.lockPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// cachedSession returns a cache hit after confirming with the order store
// that the order is still pending with the same session. Stale entries are
// evicted.
func (s *CheckoutService) cachedSession(ctx context.Context, userID, cartHash string) *CheckoutResult {
	if s.cache == nil {
		return nil
	}

	session, err := s.cache.Get(ctx, userID, cartHash)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "checkout cache unavailable", slog.String("error", err.Error()))
		}
		return nil
	}

	order, err := s.repo.GetByID(ctx, session.OrderID)
	if err == nil && order.UserID == userID && order.IsPending() && order.PreferenceID == session.PreferenceID {
		return resultOf(session, true)
	}

	if err := s.cache.Delete(ctx, userID, cartHash); err != nil {
		s.logger.WarnContext(ctx, "failed to evict stale checkout session", slog.String("error", err.Error()))
	}
	return nil
}

func (s *CheckoutService) remember(ctx context.Context, userID, cartHash string, session *domain.CheckoutSession) {
	if s.cache == nil || session == nil {
		return
	}
	if err := s.cache.Save(ctx, userID, cartHash, session); err != nil {
		s.logger.WarnContext(ctx, "failed to cache checkout session",
			slog.Int64("order_id", session.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

// compensate releases the reservation of an order whose payment session
// could not be opened. It runs even if the caller has gone away. A failure is
// logged and left for the expiry sweeper.
func (s *CheckoutService) compensate(ctx context.Context, orderID int64) {
	ctx = context.WithoutCancel(ctx)

	changed, err := s.repo.CancelAndRestock(ctx, orderID, domain.CancelReasonGatewayError)
	if err != nil {
		Compensations.WithLabelValues("failed").Inc()
		s.logger.ErrorContext(ctx, "compensation failed, order left for the expiry sweeper",
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return
	}
	Compensations.WithLabelValues("ok").Inc()

	if changed {
		if err := s.producer.PublishOrderCancelled(ctx, orderID, domain.CancelReasonGatewayError); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.cancelled event",
				slog.Int64("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.WarnContext(ctx, "order cancelled and stock restored after gateway failure",
		slog.Int64("order_id", orderID),
	)
}

// buildPreferenceRequest uses the order's snapshot for titles and prices and
// the client's hints only for description and picture.
func buildPreferenceRequest(order *domain.Order, input *CreatePreferenceInput) *gateway.PreferenceRequest {
	hints := make(map[int64]PreferenceItemInput, len(input.Items))
	for _, it := range input.Items {
		if id, err := strconv.ParseInt(it.ID.String(), 10, 64); err == nil {
			if _, ok := hints[id]; !ok {
				hints[id] = it
			}
		}
	}

	req := &gateway.PreferenceRequest{
		OrderID: order.ID,
		Items:   make([]gateway.PreferenceItem, 0, len(order.Items)),
	}
	for _, it := range order.Items {
		hint := hints[it.ProductID]
		req.Items = append(req.Items, gateway.PreferenceItem{
			ID:          strconv.FormatInt(it.ProductID, 10),
			Title:       it.Title,
			Description: hint.Description,
			PictureURL:  hint.PictureURL,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	p := input.Metadata.Payer
	req.Payer = &gateway.Payer{Name: p.Name, Surname: p.Surname, Email: strings.TrimSpace(p.Email)}
	if p.Identification.Number != "" {
		req.Payer.Identification = &gateway.Identification{
			Type:   p.Identification.Type,
			Number: p.Identification.Number,
		}
	}
	return req
}

func resultOf(session *domain.CheckoutSession, reused bool) *CheckoutResult {
	return &CheckoutResult{
		OrderID:      session.OrderID,
		PreferenceID: session.PreferenceID,
		InitPoint:    session.InitPoint,
		Reused:       reused,
	}
}
