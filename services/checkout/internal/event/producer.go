package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	pkgkafka "github.com/buja23/OpiticaPruden/pkg/kafka"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
)

// Kafka topics for order lifecycle events.
var (
	TopicOrderCreated   = pkgkafka.Topic("order", "created")
	TopicOrderPaid      = pkgkafka.Topic("order", "paid")
	TopicOrderCancelled = pkgkafka.Topic("order", "cancelled")
)

// Aggregate type constant.
const AggregateTypeOrder = "order"

// Source identifier for events originating from the checkout service.
const SourceCheckoutService = "checkout-service"

// OrderItemData is one line of an order event.
type OrderItemData struct {
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderCreatedData is the payload for an order.created event.
type OrderCreatedData struct {
	OrderID      int64           `json:"order_id"`
	UserID       string          `json:"user_id"`
	AddressID    int64           `json:"address_id"`
	TotalAmount  int64           `json:"total_amount"`
	PreferenceID string          `json:"preference_id"`
	Items        []OrderItemData `json:"items"`
}

// OrderPaidData is the payload for an order.paid event.
type OrderPaidData struct {
	OrderID   int64  `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

// OrderCancelledData is the payload for an order.cancelled event.
type OrderCancelledData struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// Producer publishes order domain events to Kafka.
type Producer struct {
	publisher pkgkafka.Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the checkout service.
func NewProducer(publisher pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishOrderCreated publishes an order.created event.
func (p *Producer) PublishOrderCreated(ctx context.Context, o *domain.Order) error {
	data := OrderCreatedData{
		OrderID:      o.ID,
		UserID:       o.UserID,
		AddressID:    o.AddressID,
		TotalAmount:  o.TotalAmount,
		PreferenceID: o.PreferenceID,
		Items:        make([]OrderItemData, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		data.Items = append(data.Items, OrderItemData{
			ProductID: it.ProductID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return p.publish(ctx, TopicOrderCreated, o.ID, data)
}

// PublishOrderPaid publishes an order.paid event.
func (p *Producer) PublishOrderPaid(ctx context.Context, orderID int64, paymentID string) error {
	return p.publish(ctx, TopicOrderPaid, orderID, OrderPaidData{OrderID: orderID, PaymentID: paymentID})
}

// PublishOrderCancelled publishes an order.cancelled event.
func (p *Producer) PublishOrderCancelled(ctx context.Context, orderID int64, reason string) error {
	return p.publish(ctx, TopicOrderCancelled, orderID, OrderCancelledData{OrderID: orderID, Reason: reason})
}

func (p *Producer) publish(ctx context.Context, topic string, orderID int64, data any) error {
	aggregateID := strconv.FormatInt(orderID, 10)

	event, err := pkgkafka.NewEventFromContext(ctx, topic, aggregateID, AggregateTypeOrder, SourceCheckoutService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published order event",
		slog.String("topic", topic),
		slog.Int64("order_id", orderID),
	)
	return nil
}
