package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/buja23/OpiticaPruden/pkg/database"
	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/pkg/pagination"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
)

var _ repository.OrderRepository = (*OrderRepository)(nil)

// Money columns are NUMERIC(12,2); they are read back as integer cents.
const orderColumns = `
	id, user_id, address_id, status, (total_amount * 100)::BIGINT,
	COALESCE(cart_hash, ''), COALESCE(mp_preference_id, ''), COALESCE(mp_init_point, ''),
	COALESCE(mp_payment_id, ''), COALESCE(cancel_reason, ''), COALESCE(tracking_code, ''),
	fulfillment_status, created_at, updated_at`

const (
	nextOrderIDQuery = `SELECT nextval(pg_get_serial_sequence('orders', 'id'))`

	insertOrderQuery = `
		INSERT INTO orders (id, user_id, address_id, status, total_amount, cart_hash)
		VALUES ($1, $2, $3, 'pending', $4::NUMERIC / 100, NULLIF($5, ''))
		RETURNING created_at, updated_at`

	insertItemQuery = `
		INSERT INTO order_items (order_id, product_id, title, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5::NUMERIC / 100)`

	selectItemsQuery = `
		SELECT order_id, product_id, title, quantity, (unit_price * 100)::BIGINT
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_id`

	lockOrderQuery = `
		SELECT status, fulfillment_status
		FROM orders
		WHERE id = $1
		FOR UPDATE`
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// FindReusable returns the newest pending order for the same user and cart
// that already carries a payment preference.
func (r *OrderRepository) FindReusable(ctx context.Context, userID, cartHash string) (o *domain.Order, err error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1 AND cart_hash = $2 AND status = 'pending'
		  AND mp_preference_id IS NOT NULL AND mp_init_point IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	ctx, end := database.TraceQuery(ctx, "FindReusableOrder", query)
	defer func() { end(err) }()

	o, err = scanOrder(r.pool.QueryRow(ctx, query, userID, cartHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("find reusable order: %w", err)
	}

	if err = attachItems(ctx, r.pool, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateWithReservation reserves stock and inserts a pending order with its
// items in a single transaction. The order id is drawn from the sequence up
// front so stock movements can reference it.
func (r *OrderRepository) CreateWithReservation(ctx context.Context, in *domain.NewOrder) (o *domain.Order, err error) {
	if len(domain.NormalizeCart(in.Items)) == 0 {
		return nil, apperrors.InvalidInput("cart is empty")
	}

	ctx, end := database.TraceQuery(ctx, "CreateOrderWithReservation", insertOrderQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var orderID int64
		if err := tx.QueryRow(ctx, nextOrderIDQuery).Scan(&orderID); err != nil {
			return fmt.Errorf("allocate order id: %w", err)
		}

		lines, err := reserveStock(ctx, tx, orderID, in.Items)
		if err != nil {
			return err
		}

		var total int64
		for _, l := range lines {
			total += l.LineTotal()
		}

		created := &domain.Order{
			ID:                orderID,
			UserID:            in.UserID,
			AddressID:         in.AddressID,
			Status:            domain.OrderStatusPending,
			TotalAmount:       total,
			CartHash:          in.CartHash,
			FulfillmentStatus: domain.FulfillmentUnfulfilled,
			Items:             lines,
		}

		err = tx.QueryRow(ctx, insertOrderQuery,
			orderID, in.UserID, in.AddressID, total, in.CartHash,
		).Scan(&created.CreatedAt, &created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, l := range lines {
			if _, err := tx.Exec(ctx, insertItemQuery, orderID, l.ProductID, l.Title, l.Quantity, l.UnitPrice); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		o = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// AttachPreference records the payment preference on a pending order that has
// none yet.
func (r *OrderRepository) AttachPreference(ctx context.Context, orderID int64, preferenceID, initPoint string) (err error) {
	query := `
		UPDATE orders
		SET mp_preference_id = $2, mp_init_point = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND mp_preference_id IS NULL`

	ctx, end := database.TraceQuery(ctx, "AttachPreference", query)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, query, orderID, preferenceID, initPoint)
	if err != nil {
		return fmt.Errorf("attach preference to order %d: %w", orderID, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("order %d is not awaiting a payment preference", orderID))
	}
	return nil
}

// GetByID retrieves an order by its ID, eagerly loading its items.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (o *domain.Order, err error) {
	ctx, end := database.TraceQuery(ctx, "GetOrderByID", "SELECT ... FROM orders WHERE id = $1")
	defer func() { end(err) }()

	return getByID(ctx, r.pool, id)
}

func getByID(ctx context.Context, q querier, id int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	if err := attachItems(ctx, q, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// MarkPaid moves a pending order to paid and records the payment id. Orders
// in any other status are left untouched.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID int64, paymentID string) (changed bool, err error) {
	query := `
		UPDATE orders
		SET status = 'paid', mp_payment_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	ctx, end := database.TraceQuery(ctx, "MarkOrderPaid", query)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, query, orderID, paymentID)
	if err != nil {
		return false, fmt.Errorf("mark order %d paid: %w", orderID, err)
	}
	if ct.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order %d: %w", orderID, err)
	}
	if !exists {
		return false, apperrors.NotFound("order", orderID)
	}
	return false, nil
}

// CancelAndRestock cancels a pending order and returns its reserved units to
// stock. The order row is locked first so concurrent webhook, sweeper and
// user cancellations release stock at most once.
func (r *OrderRepository) CancelAndRestock(ctx context.Context, orderID int64, reason string) (changed bool, err error) {
	ctx, end := database.TraceQuery(ctx, "CancelAndRestock", lockOrderQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status, fulfillment string
		if err := tx.QueryRow(ctx, lockOrderQuery, orderID).Scan(&status, &fulfillment); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("order", orderID)
			}
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		if !domain.CanTransition(status, domain.OrderStatusCancelled) {
			return nil
		}

		items, err := loadItems(ctx, tx, []int64{orderID})
		if err != nil {
			return err
		}

		if err := releaseStock(ctx, tx, orderID, items[orderID], reason); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE orders
			SET status = 'cancelled', cancel_reason = $2, updated_at = NOW()
			WHERE id = $1`, orderID, reason)
		if err != nil {
			return fmt.Errorf("cancel order %d: %w", orderID, err)
		}

		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListExpiredPending returns ids of pending orders created before the cutoff,
// oldest first.
func (r *OrderRepository) ListExpiredPending(ctx context.Context, before time.Time) (ids []int64, err error) {
	query := `
		SELECT id FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at, id`

	ctx, end := database.TraceQuery(ctx, "ListExpiredPending", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("list expired pending orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired orders: %w", err)
	}
	return ids, nil
}

// ListByUser returns a page of the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page, perPage int) (orders []domain.Order, total int, err error) {
	query := `SELECT ` + orderColumns + `, COUNT(*) OVER()
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ListOrdersByUser", query)
	defer func() { end(err) }()

	p := pagination.New(page, perPage)
	return r.list(ctx, query, userID, p.PerPage, p.Offset)
}

// ListAll returns a page of all orders, optionally filtered by status.
func (r *OrderRepository) ListAll(ctx context.Context, status string, page, perPage int) (orders []domain.Order, total int, err error) {
	query := `SELECT ` + orderColumns + `, COUNT(*) OVER()
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ListAllOrders", query)
	defer func() { end(err) }()

	p := pagination.New(page, perPage)
	return r.list(ctx, query, status, p.PerPage, p.Offset)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, int, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []*domain.Order
		total  int
	)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.AddressID, &o.Status, &o.TotalAmount,
			&o.CartHash, &o.PreferenceID, &o.InitPoint,
			&o.PaymentID, &o.CancelReason, &o.TrackingCode,
			&o.FulfillmentStatus, &o.CreatedAt, &o.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if err := attachItems(ctx, r.pool, orders); err != nil {
		return nil, 0, err
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, total, nil
}

// UpdateLogistics sets the tracking code and fulfillment status of a paid
// order. An empty tracking code keeps the current one.
func (r *OrderRepository) UpdateLogistics(ctx context.Context, orderID int64, trackingCode, fulfillmentStatus string) (o *domain.Order, err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateLogistics", lockOrderQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status, current string
		if err := tx.QueryRow(ctx, lockOrderQuery, orderID).Scan(&status, &current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("order", orderID)
			}
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		if status != domain.OrderStatusPaid {
			return apperrors.Conflict(fmt.Sprintf("order %d is %s, only paid orders can be shipped", orderID, status))
		}
		if fulfillmentStatus == "" {
			fulfillmentStatus = current
		}
		if !domain.CanFulfill(current, fulfillmentStatus) {
			return apperrors.Conflict(fmt.Sprintf("cannot move fulfillment from %s to %s", current, fulfillmentStatus))
		}

		_, err := tx.Exec(ctx, `
			UPDATE orders
			SET tracking_code = COALESCE(NULLIF($2, ''), tracking_code),
			    fulfillment_status = $3,
			    updated_at = NOW()
			WHERE id = $1`, orderID, trackingCode, fulfillmentStatus)
		if err != nil {
			return fmt.Errorf("update logistics of order %d: %w", orderID, err)
		}

		o, err = getByID(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.AddressID, &o.Status, &o.TotalAmount,
		&o.CartHash, &o.PreferenceID, &o.InitPoint,
		&o.PaymentID, &o.CancelReason, &o.TrackingCode,
		&o.FulfillmentStatus, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// attachItems batch-loads the items of orders with a single query.
func attachItems(ctx context.Context, q querier, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	items, err := loadItems(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
		if o.Items == nil {
			o.Items = []domain.OrderItem{}
		}
	}
	return nil
}

// loadItems returns items keyed by order id, each slice ordered by product id.
func loadItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := q.Query(ctx, selectItemsQuery, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID int64
			it      domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Title, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[orderID] = append(out[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return out, nil
}
