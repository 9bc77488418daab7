package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	pkgkafka "github.com/buja23/OpiticaPruden/pkg/kafka"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/gateway"
)

// --- Mock Repository ---

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) FindReusable(ctx context.Context, userID, cartHash string) (*domain.Order, error) {
	args := m.Called(ctx, userID, cartHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) CreateWithReservation(ctx context.Context, in *domain.NewOrder) (*domain.Order, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) AttachPreference(ctx context.Context, orderID int64, preferenceID, initPoint string) error {
	args := m.Called(ctx, orderID, preferenceID, initPoint)
	return args.Error(0)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) MarkPaid(ctx context.Context, orderID int64, paymentID string) (bool, error) {
	args := m.Called(ctx, orderID, paymentID)
	return args.Bool(0), args.Error(1)
}

func (m *mockOrderRepository) CancelAndRestock(ctx context.Context, orderID int64, reason string) (bool, error) {
	args := m.Called(ctx, orderID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockOrderRepository) ListExpiredPending(ctx context.Context, before time.Time) ([]int64, error) {
	args := m.Called(ctx, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockOrderRepository) ListByUser(ctx context.Context, userID string, page, perPage int) ([]domain.Order, int, error) {
	args := m.Called(ctx, userID, page, perPage)
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}

func (m *mockOrderRepository) ListAll(ctx context.Context, status string, page, perPage int) ([]domain.Order, int, error) {
	args := m.Called(ctx, status, page, perPage)
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}

func (m *mockOrderRepository) UpdateLogistics(ctx context.Context, orderID int64, trackingCode, fulfillmentStatus string) (*domain.Order, error) {
	args := m.Called(ctx, orderID, trackingCode, fulfillmentStatus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

// --- Mock Session Cache ---

type mockSessionCache struct {
	mock.Mock
}

func (m *mockSessionCache) Get(ctx context.Context, userID, cartHash string) (*domain.CheckoutSession, error) {
	args := m.Called(ctx, userID, cartHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CheckoutSession), args.Error(1)
}

func (m *mockSessionCache) Save(ctx context.Context, userID, cartHash string, s *domain.CheckoutSession) error {
	args := m.Called(ctx, userID, cartHash, s)
	return args.Error(0)
}

func (m *mockSessionCache) Delete(ctx context.Context, userID, cartHash string) error {
	args := m.Called(ctx, userID, cartHash)
	return args.Error(0)
}

// --- Mock Checkout Lock ---

type mockCheckoutLock struct {
	mock.Mock
}

func (m *mockCheckoutLock) Acquire(ctx context.Context, userID, cartHash string) (string, bool, error) {
	args := m.Called(ctx, userID, cartHash)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockCheckoutLock) Release(ctx context.Context, userID, cartHash, token string) error {
	args := m.Called(ctx, userID, cartHash, token)
	return args.Error(0)
}

// --- Mock Notification Ledger ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Seen(ctx context.Context, paymentID, status string) (bool, error) {
	args := m.Called(ctx, paymentID, status)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) Remember(ctx context.Context, paymentID, status string) error {
	args := m.Called(ctx, paymentID, status)
	return args.Error(0)
}

// --- Mock Gateway ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) CreatePreference(ctx context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Preference), args.Error(1)
}

func (m *mockGateway) GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Payment), args.Error(1)
}

// --- Recording Publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ *pkgkafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// --- Test Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProducer() (*event.Producer, *recordingPublisher) {
	pub := &recordingPublisher{}
	return event.NewProducer(pub, discardLogger()), pub
}

func pendingOrder(id int64, userID string) *domain.Order {
	return &domain.Order{
		ID:                id,
		UserID:            userID,
		AddressID:         7,
		Status:            domain.OrderStatusPending,
		TotalAmount:       25980,
		CartHash:          "hash",
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		Items: []domain.OrderItem{
			{ProductID: 3, Title: "Aviador Classic", Quantity: 2, UnitPrice: 12990},
		},
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}
