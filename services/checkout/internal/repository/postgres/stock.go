package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
)

// Stock movement reasons.
const (
	movementReserve = "reserve"
)

const (
	lockProductQuery = `
		SELECT id, name, (price_sale * 100)::BIGINT, stock
		FROM products
		WHERE id = $1
		FOR UPDATE`

	decrementStockQuery = `
		UPDATE products
		SET stock = stock - $1, updated_at = NOW()
		WHERE id = $2 AND stock >= $1`

	incrementStockQuery = `
		UPDATE products
		SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2`

	insertMovementQuery = `
		INSERT INTO stock_movements (product_id, order_id, quantity_change, reason)
		VALUES ($1, $2, $3, $4)`
)

// reserveStock locks every product row of the cart in ascending id order,
// checks availability, decrements stock and writes a movement per product.
// It returns line items carrying the catalog title and price at lock time.
// Any shortage aborts the whole cart; the caller's rollback undoes partial
// decrements.
func reserveStock(ctx context.Context, tx pgx.Tx, orderID int64, items []domain.CartItem) ([]domain.OrderItem, error) {
	normalized := domain.NormalizeCart(items)
	lines := make([]domain.OrderItem, 0, len(normalized))

	for _, it := range normalized {
		var (
			id    int64
			name  string
			price int64
			stock int
		)
		err := tx.QueryRow(ctx, lockProductQuery, it.ProductID).Scan(&id, &name, &price, &stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.InvalidInput(fmt.Sprintf("product %d not found", it.ProductID))
			}
			return nil, fmt.Errorf("lock product %d: %w", it.ProductID, err)
		}

		if it.Quantity > stock {
			return nil, apperrors.InsufficientStock(id, name, it.Quantity, stock)
		}

		ct, err := tx.Exec(ctx, decrementStockQuery, it.Quantity, id)
		if err != nil {
			return nil, fmt.Errorf("decrement stock for product %d: %w", id, err)
		}
		if ct.RowsAffected() == 0 {
			return nil, apperrors.InsufficientStock(id, name, it.Quantity, stock)
		}

		if _, err := tx.Exec(ctx, insertMovementQuery, id, orderID, -it.Quantity, movementReserve); err != nil {
			return nil, fmt.Errorf("insert reserve movement for product %d: %w", id, err)
		}

		lines = append(lines, domain.OrderItem{
			ProductID: id,
			Title:     name,
			Quantity:  it.Quantity,
			UnitPrice: price,
		})
	}

	return lines, nil
}

// releaseStock returns the reserved units of items to stock and records a
// movement with reason "release:<reason>" per item.
func releaseStock(ctx context.Context, tx pgx.Tx, orderID int64, items []domain.OrderItem, reason string) error {
	movementReason := domain.ReleaseReason(reason)

	for _, it := range items {
		if _, err := tx.Exec(ctx, incrementStockQuery, it.Quantity, it.ProductID); err != nil {
			return fmt.Errorf("increment stock for product %d: %w", it.ProductID, err)
		}
		if _, err := tx.Exec(ctx, insertMovementQuery, it.ProductID, orderID, it.Quantity, movementReason); err != nil {
			return fmt.Errorf("insert release movement for product %d: %w", it.ProductID, err)
		}
	}
	return nil
}
