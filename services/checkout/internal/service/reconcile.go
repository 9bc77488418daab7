package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/gateway"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

// NotificationTypePayment is the only notification type that is reconciled.
const NotificationTypePayment = "payment"

// Notification is a payment gateway webhook reduced to what is needed to
// look the payment up. Its status is never trusted.
type Notification struct {
	Type      string
	Action    string
	PaymentID string
}

// ReconcileResult describes what a notification did to its order.
type ReconcileResult struct {
	PaymentID     string `json:"payment_id,omitempty"`
	OrderID       int64  `json:"order_id,omitempty"`
	GatewayStatus string `json:"gateway_status,omitempty"`
	Outcome       string `json:"outcome"`
}

// ReconcileService applies payment notifications to orders.
type ReconcileService struct {
	repo     repository.OrderRepository
	ledger   repository.NotificationLedger
	gateway  gateway.Gateway
	producer *event.Producer
	logger   *slog.Logger
}

// NewReconcileService creates a new reconcile service. ledger may be nil.
func NewReconcileService(
	repo repository.OrderRepository,
	ledger repository.NotificationLedger,
	gw gateway.Gateway,
	producer *event.Producer,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		repo:     repo,
		ledger:   ledger,
		gateway:  gw,
		producer: producer,
		logger:   logger,
	}
}

// HandleNotification re-queries the gateway for the notified payment and
// moves its order to paid or cancelled. Gateway and store failures are
// returned so the gateway redelivers; a payment that cannot be tied to an
// order is an Unprocessable error.
func (s *ReconcileService) HandleNotification(ctx context.Context, n Notification) (*ReconcileResult, error) {
	paymentID := strings.TrimSpace(n.PaymentID)
	if n.Type != NotificationTypePayment || paymentID == "" {
		PaymentNotifications.WithLabelValues(domain.OutcomeIgnored).Inc()
		s.logger.DebugContext(ctx, "ignoring notification",
			slog.String("type", n.Type),
			slog.String("action", n.Action),
		)
		return &ReconcileResult{PaymentID: paymentID, Outcome: domain.OutcomeIgnored}, nil
	}

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		PaymentNotifications.WithLabelValues("gateway_error").Inc()
		s.logger.ErrorContext(ctx, "failed to fetch notified payment",
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result := &ReconcileResult{PaymentID: paymentID, GatewayStatus: payment.Status}

	orderID, err := strconv.ParseInt(strings.TrimSpace(payment.ExternalReference), 10, 64)
	if err != nil || orderID <= 0 {
		PaymentNotifications.WithLabelValues("unmatched").Inc()
		s.logger.ErrorContext(ctx, "payment has no usable external reference",
			slog.String("payment_id", paymentID),
			slog.String("external_reference", payment.ExternalReference),
			slog.String("gateway_status", payment.Status),
		)
		return nil, apperrors.Unprocessable(fmt.Sprintf("payment %s has no usable external reference", paymentID))
	}
	result.OrderID = orderID

	if !domain.IsTerminalPaymentStatus(payment.Status) {
		PaymentNotifications.WithLabelValues(domain.OutcomeUnchanged).Inc()
		s.logger.InfoContext(ctx, "payment not settled yet, order left pending",
			slog.String("payment_id", paymentID),
			slog.Int64("order_id", orderID),
			slog.String("gateway_status", payment.Status),
		)
		result.Outcome = domain.OutcomeUnchanged
		return result, nil
	}

	target := domain.TargetStatus(payment.Status)
	if s.alreadyApplied(ctx, paymentID, payment.Status) {
		PaymentNotifications.WithLabelValues(domain.OutcomeUnchanged).Inc()
		result.Outcome = domain.OutcomeUnchanged
		return result, nil
	}

	var changed bool
	switch target {
	case domain.OrderStatusPaid:
		changed, err = s.repo.MarkPaid(ctx, orderID, paymentID)
	case domain.OrderStatusCancelled:
		changed, err = s.repo.CancelAndRestock(ctx, orderID, domain.PaymentCancelReason(payment.Status))
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			PaymentNotifications.WithLabelValues("unmatched").Inc()
			s.logger.ErrorContext(ctx, "payment references an unknown order",
				slog.String("payment_id", paymentID),
				slog.Int64("order_id", orderID),
			)
			return nil, apperrors.Unprocessable(fmt.Sprintf("payment %s references unknown order %d", paymentID, orderID))
		}
		PaymentNotifications.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("apply payment %s to order %d: %w", paymentID, orderID, err)
	}

	result.Outcome = domain.OutcomeUnchanged
	if changed {
		result.Outcome = target
		s.publish(ctx, target, orderID, paymentID, payment.Status)
	} else {
		s.logger.InfoContext(ctx, "order already settled, notification has no effect",
			slog.String("payment_id", paymentID),
			slog.Int64("order_id", orderID),
			slog.String("gateway_status", payment.Status),
		)
	}

	if s.ledger != nil {
		if err := s.ledger.Remember(ctx, paymentID, payment.Status); err != nil {
			s.logger.WarnContext(ctx, "failed to record applied notification", slog.String("error", err.Error()))
		}
	}

	PaymentNotifications.WithLabelValues(result.Outcome).Inc()
	s.logger.InfoContext(ctx, "payment notification reconciled",
		slog.String("payment_id", paymentID),
		slog.Int64("order_id", orderID),
		slog.String("gateway_status", payment.Status),
		slog.String("outcome", result.Outcome),
	)
	return result, nil
}

func (s *ReconcileService) alreadyApplied(ctx context.Context, paymentID, status string) bool {
	if s.ledger == nil {
		return false
	}
	seen, err := s.ledger.Seen(ctx, paymentID, status)
	if err != nil {
		s.logger.WarnContext(ctx, "notification ledger unavailable", slog.String("error", err.Error()))
		return false
	}
	return seen
}

func (s *ReconcileService) publish(ctx context.Context, target string, orderID int64, paymentID, gatewayStatus string) {
	var err error
	switch target {
	case domain.OrderStatusPaid:
		err = s.producer.PublishOrderPaid(ctx, orderID, paymentID)
	case domain.OrderStatusCancelled:
		err = s.producer.PublishOrderCancelled(ctx, orderID, domain.PaymentCancelReason(gatewayStatus))
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order event",
			slog.Int64("order_id", orderID),
			slog.String("status", target),
			slog.String("error", err.Error()),
		)
	}
}
