//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/buja23/OpiticaPruden/pkg/database"
	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	pkgkafka "github.com/buja23/OpiticaPruden/pkg/kafka"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	mockgateway "github.com/buja23/OpiticaPruden/services/checkout/internal/gateway/mock"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
	"github.com/buja23/OpiticaPruden/services/checkout/migrations"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("optica"),
		tcpostgres.WithUsername("optica"),
		tcpostgres.WithPassword("optica"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := database.DefaultPostgresConfig()
	cfg.URL = connStr
	pool, err := database.NewPostgresPool(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool, migrations.FS, discardLogger()))
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, name string, price string, stock int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO products (name, price_sale, stock) VALUES ($1, $2::NUMERIC, $3) RETURNING id`,
		name, price, stock,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func stockOf(t *testing.T, pool *pgxpool.Pool, productID int64) int {
	t.Helper()
	var stock int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock))
	return stock
}

func movementSum(t *testing.T, pool *pgxpool.Pool, productID int64) int {
	t.Helper()
	var sum int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COALESCE(SUM(quantity_change), 0) FROM stock_movements WHERE product_id = $1`,
		productID).Scan(&sum))
	return sum
}

func TestIntegration_ConcurrentReservationsNeverOversell(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	const (
		initialStock = 3
		buyers       = 10
	)
	productID := seedProduct(t, pool, "Wayfarer Tartaruga", "349.90", initialStock)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  []int64
		rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := repo.CreateWithReservation(ctx, &domain.NewOrder{
				UserID:    "buyer",
				AddressID: 1,
				Items:     []domain.CartItem{{ProductID: productID, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created = append(created, o.ID)
			case errors.Is(err, apperrors.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, created, initialStock)
	assert.Equal(t, buyers-initialStock, rejected)
	assert.Equal(t, 0, stockOf(t, pool, productID))
	assert.Equal(t, -initialStock, movementSum(t, pool, productID))

	for _, id := range created {
		changed, err := repo.CancelAndRestock(ctx, id, domain.CancelReasonExpired)
		require.NoError(t, err)
		assert.True(t, changed)
	}
	assert.Equal(t, initialStock, stockOf(t, pool, productID))
	assert.Equal(t, 0, movementSum(t, pool, productID))
}

func TestIntegration_ConcurrentCancelReleasesOnce(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	productID := seedProduct(t, pool, "Clubmaster Preto", "289.00", 5)
	o, err := repo.CreateWithReservation(ctx, &domain.NewOrder{
		UserID:    "buyer",
		AddressID: 1,
		CartHash:  "h",
		Items:     []domain.CartItem{{ProductID: productID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(57800), o.TotalAmount)
	assert.Equal(t, 3, stockOf(t, pool, productID))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := repo.CancelAndRestock(ctx, o.ID, domain.CancelReasonUserCancelled)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changes)
	assert.Equal(t, 5, stockOf(t, pool, productID))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonUserCancelled, got.CancelReason)

	paid, err := repo.MarkPaid(ctx, o.ID, "pay-late")
	require.NoError(t, err)
	assert.False(t, paid)
}

func TestIntegration_ReuseAndPaidFlow(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	productID := seedProduct(t, pool, "Redondo Dourado", "199.90", 4)
	o, err := repo.CreateWithReservation(ctx, &domain.NewOrder{
		UserID:    "buyer",
		AddressID: 2,
		CartHash:  "cart-abc",
		Items:     []domain.CartItem{{ProductID: productID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = repo.FindReusable(ctx, "buyer", "cart-abc")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	require.NoError(t, repo.AttachPreference(ctx, o.ID, "pref-1", "https://mp.test/init"))
	assert.True(t, errors.Is(repo.AttachPreference(ctx, o.ID, "pref-2", "x"), apperrors.ErrConflict))

	reused, err := repo.FindReusable(ctx, "buyer", "cart-abc")
	require.NoError(t, err)
	assert.Equal(t, o.ID, reused.ID)
	assert.Equal(t, "pref-1", reused.PreferenceID)

	paid, err := repo.MarkPaid(ctx, o.ID, "pay-1")
	require.NoError(t, err)
	assert.True(t, paid)

	changed, err := repo.CancelAndRestock(ctx, o.ID, domain.CancelReasonExpired)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 3, stockOf(t, pool, productID))

	updated, err := repo.UpdateLogistics(ctx, o.ID, "BR000111222", domain.FulfillmentShipped)
	require.NoError(t, err)
	assert.Equal(t, "BR000111222", updated.TrackingCode)

	orders, total, err := repo.ListAll(ctx, domain.OrderStatusPaid, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)
	assert.Len(t, orders[0].Items, 1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backdate(t *testing.T, pool *pgxpool.Pool, orderID int64, age time.Duration) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`UPDATE orders SET created_at = NOW() - make_interval(secs => $2) WHERE id = $1`,
		orderID, age.Seconds())
	require.NoError(t, err)
}

func TestIntegration_SweepCancelsOnlyExpiredOrders(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	productID := seedProduct(t, pool, "Gatinho Vermelho", "259.90", 10)
	reserve := func(user string) *domain.Order {
		o, err := repo.CreateWithReservation(ctx, &domain.NewOrder{
			UserID:    user,
			AddressID: 1,
			Items:     []domain.CartItem{{ProductID: productID, Quantity: 2}},
		})
		require.NoError(t, err)
		return o
	}
	expired := reserve("buyer-old")
	fresh := reserve("buyer-new")
	require.Equal(t, 6, stockOf(t, pool, productID))

	backdate(t, pool, expired.ID, 13*time.Hour)
	backdate(t, pool, fresh.ID, 11*time.Hour)

	producer := event.NewProducer(pkgkafka.NopPublisher{}, discardLogger())
	sweeper := service.NewSweeperService(repo, producer, discardLogger(), 12*time.Hour)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 0, report.Failed)

	got, err := repo.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonExpired, got.CancelReason)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	assert.Equal(t, 8, stockOf(t, pool, productID))
	assert.Equal(t, 8-10, movementSum(t, pool, productID))

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Cancelled)
	assert.Equal(t, 8, stockOf(t, pool, productID))
}

func TestIntegration_GatewayFailureRestoresStock(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	productID := seedProduct(t, pool, "Oval Titanio", "489.00", 5)

	gw := mockgateway.New("https://otica.example")
	gw.FailNext(apperrors.GatewayFailure("payment gateway rejected the checkout", errors.New("boom")))
	producer := event.NewProducer(pkgkafka.NopPublisher{}, discardLogger())
	checkout := service.NewCheckoutService(repo, nil, gw, producer, discardLogger())

	_, err := checkout.CreatePreference(ctx, "buyer-rollback", &service.CreatePreferenceInput{
		Items: []service.PreferenceItemInput{
			{ID: json.Number(strconv.FormatInt(productID, 10)), Quantity: 3},
		},
		Metadata: service.PreferenceMetadata{
			AddressID: 7,
			Payer:     service.PayerInput{Email: "rollback@example.com"},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGateway))

	assert.Equal(t, 5, stockOf(t, pool, productID))
	assert.Equal(t, 0, movementSum(t, pool, productID))

	var (
		status string
		reason *string
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status, cancel_reason FROM orders WHERE user_id = $1`, "buyer-rollback",
	).Scan(&status, &reason))
	assert.Equal(t, domain.OrderStatusCancelled, status)
	require.NotNil(t, reason)
	assert.Equal(t, domain.CancelReasonGatewayError, *reason)
}
