package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/buja23/OpiticaPruden/pkg/health"
	pkgkafka "github.com/buja23/OpiticaPruden/pkg/kafka"
	"github.com/buja23/OpiticaPruden/pkg/middleware"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	mockgateway "github.com/buja23/OpiticaPruden/services/checkout/internal/gateway/mock"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
)

// --- Mock Order Repository ---

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

// --- Test Helpers ---

const testSweepToken = "sweep-secret"

type testEnv struct {
	repo    *mockOrderRepository
	gateway *mockgateway.Gateway
	router  http.Handler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, mutate func(*RouterConfig)) *testEnv {
	t.Helper()
	logger := testLogger()
	repo := new(mockOrderRepository)
	gw := mockgateway.New("https://otica.example")
	producer := event.NewProducer(pkgkafka.NopPublisher{}, logger)

	svcs := Services{
		Checkout:  service.NewCheckoutService(repo, nil, gw, producer, logger),
		Reconcile: service.NewReconcileService(repo, nil, gw, producer, logger),
		Sweeper:   service.NewSweeperService(repo, producer, logger, 12*time.Hour),
		Orders:    service.NewOrderService(repo, producer, logger),
	}

	cfg := RouterConfig{
		Auth:              middleware.HeaderAuth(),
		AllowedOrigins:    []string{"https://otica.example"},
		SweepToken:        testSweepToken,
		PprofAllowedCIDRs: []string{"127.0.0.0/8"},
		MockGateway:       gw,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &testEnv{
		repo:    repo,
		gateway: gw,
		router:  NewRouter(svcs, health.NewHandler(), cfg, logger),
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func asUser(id string) map[string]string {
	return map[string]string{middleware.UserIDHeader: id}
}

func asAdmin() map[string]string {
	return map[string]string{middleware.UserIDHeader: "admin-1", middleware.UserRoleHeader: RoleAdmin}
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeMap(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %v", body)
	return errObj["code"].(string)
}

func sampleOrder(id int64, userID, status string) *domain.Order {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:                id,
		UserID:            userID,
		AddressID:         7,
		Status:            status,
		TotalAmount:       25980,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		Items: []domain.OrderItem{
			{ProductID: 3, Title: "Aviador Classic", Quantity: 2, UnitPrice: 12990},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
