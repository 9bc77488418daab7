package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/pkg/pagination"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

// UpdateLogisticsInput is the admin request to record shipping progress.
type UpdateLogisticsInput struct {
	TrackingCode      string `json:"tracking_code" validate:"max=64"`
	FulfillmentStatus string `json:"fulfillment_status" validate:"omitempty,oneof=unfulfilled shipped delivered"`
}

// OrderService serves order reads and the operations buyers and operators
// perform after checkout.
type OrderService struct {
	repo     repository.OrderRepository
	producer *event.Producer
	logger   *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(repo repository.OrderRepository, producer *event.Producer, logger *slog.Logger) *OrderService {
	return &OrderService{repo: repo, producer: producer, logger: logger}
}

// GetOrder returns one of the user's orders. Orders of other users are
// reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, userID string, id int64) (*domain.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, apperrors.NotFound("order", id)
	}
	return o, nil
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string, params pagination.Params) (pagination.Result[domain.Order], error) {
	params = pagination.New(params.Page, params.PerPage)
	orders, total, err := s.repo.ListByUser(ctx, userID, params.Page, params.PerPage)
	if err != nil {
		return pagination.Result[domain.Order]{}, fmt.Errorf("list orders: %w", err)
	}
	return pagination.NewResult(orders, total, params), nil
}

// CancelOrder cancels a pending order on the buyer's request and restores its
// stock. Cancelling an already cancelled order is a no-op; a paid order
// cannot be cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, userID string, id int64) (*domain.Order, error) {
	o, err := s.GetOrder(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case domain.OrderStatusCancelled:
		return o, nil
	case domain.OrderStatusPaid:
		return nil, apperrors.Conflict(fmt.Sprintf("order %d is already paid", id))
	}

	changed, err := s.repo.CancelAndRestock(ctx, id, domain.CancelReasonUserCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel order %d: %w", id, err)
	}

	if changed {
		s.logger.InfoContext(ctx, "order cancelled by buyer", slog.Int64("order_id", id))
		if err := s.producer.PublishOrderCancelled(ctx, id, domain.CancelReasonUserCancelled); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.cancelled event",
				slog.Int64("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	o, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed && o.Status == domain.OrderStatusPaid {
		return nil, apperrors.Conflict(fmt.Sprintf("order %d is already paid", id))
	}
	return o, nil
}

// ListAllOrders returns every order, optionally filtered by status.
func (s *OrderService) ListAllOrders(ctx context.Context, status string, params pagination.Params) (pagination.Result[domain.Order], error) {
	status = strings.TrimSpace(status)
	if status != "" && !domain.IsValidStatus(status) {
		return pagination.Result[domain.Order]{}, apperrors.InvalidInput(fmt.Sprintf("unknown order status %q", status))
	}

	params = pagination.New(params.Page, params.PerPage)
	orders, total, err := s.repo.ListAll(ctx, status, params.Page, params.PerPage)
	if err != nil {
		return pagination.Result[domain.Order]{}, fmt.Errorf("list all orders: %w", err)
	}
	return pagination.NewResult(orders, total, params), nil
}

// UpdateLogistics records the tracking code and fulfillment progress of a
// paid order.
func (s *OrderService) UpdateLogistics(ctx context.Context, id int64, input *UpdateLogisticsInput) (*domain.Order, error) {
	if input == nil {
		return nil, apperrors.InvalidInput("logistics input is required")
	}
	tracking := strings.TrimSpace(input.TrackingCode)
	fulfillment := strings.TrimSpace(input.FulfillmentStatus)
	if tracking == "" && fulfillment == "" {
		return nil, apperrors.InvalidInput("tracking_code or fulfillment_status is required")
	}
	switch fulfillment {
	case "", domain.FulfillmentUnfulfilled, domain.FulfillmentShipped, domain.FulfillmentDelivered:
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown fulfillment status %q", fulfillment))
	}

	o, err := s.repo.UpdateLogistics(ctx, id, tracking, fulfillment)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("update logistics of order %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "order logistics updated",
		slog.Int64("order_id", id),
		slog.String("tracking_code", o.TrackingCode),
		slog.String("fulfillment_status", o.FulfillmentStatus),
	)
	return o, nil
}
