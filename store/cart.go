package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/models"
)

// ReadCartWithProductInfo returns the user's cart lines joined with the
// current product price and stock. Both the cart rows and the product rows
// are locked; lines come back ordered by product id so concurrent
// placements acquire product locks in the same order.
func (q *queries) ReadCartWithProductInfo(ctx context.Context, userID int64) ([]models.CartProductLine, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT c.product_id, c.quantity, p.price, p.stock_quantity
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = ?
		ORDER BY c.product_id
		FOR UPDATE`, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	defer rows.Close()

	var lines []models.CartProductLine
	for rows.Next() {
		var line models.CartProductLine
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.Price, &line.StockQuantity); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	return lines, nil
}

func (q *queries) DeleteAllCartLines(ctx context.Context, userID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (q *queries) ListCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, user_id, product_id, quantity, added_at
		FROM cart_items
		WHERE user_id = ?
		ORDER BY added_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	lines := []models.CartLine{}
	for rows.Next() {
		var line models.CartLine
		if err := rows.Scan(&line.ID, &line.UserID, &line.ProductID, &line.Quantity, &line.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (q *queries) FindCartLine(ctx context.Context, userID, productID int64) (*models.CartLine, error) {
	var line models.CartLine
	err := q.q.QueryRowContext(ctx, `
		SELECT id, user_id, product_id, quantity, added_at
		FROM cart_items
		WHERE user_id = ? AND product_id = ?
		FOR UPDATE`, userID, productID).
		Scan(&line.ID, &line.UserID, &line.ProductID, &line.Quantity, &line.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find cart line: %w", err)
	}
	return &line, nil
}

func (q *queries) InsertCartLine(ctx context.Context, line *models.CartLine) error {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity, added_at) VALUES (?, ?, ?, ?)`,
		line.UserID, line.ProductID, line.Quantity, line.AddedAt)
	if isMySQLError(err, mysqlErrNoReferencedRow) {
		// the product row is locked by the caller, so the missing parent is the user
		return fmt.Errorf("insert cart line for user %d: %w", line.UserID, ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert cart line: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert cart line: %w", err)
	}
	line.ID = id
	return nil
}

// UpdateCartLine sets the quantity of one of the user's cart lines.
func (q *queries) UpdateCartLine(ctx context.Context, userID, lineID int64, quantity int) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE cart_items SET quantity = ? WHERE id = ? AND user_id = ?`,
		quantity, lineID, userID)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	return expectOneRow(res)
}

func (q *queries) RemoveCartLine(ctx context.Context, userID, lineID int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ? AND user_id = ?`, lineID, userID)
	if err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}
	return expectOneRow(res)
}
