package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storefront-service/models"
)

const orderColumns = `id, user_id, total_amount, status, shipping_address, billing_address, created_at, updated_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &o.ShippingAddress,
		&o.BillingAddress, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	return &o, nil
}

// InsertOrder writes the order row and sets order.ID.
func (q *queries) InsertOrder(ctx context.Context, order *models.Order) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO orders (user_id, total_amount, status, shipping_address, billing_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.UserID, order.TotalAmount, string(order.Status), order.ShippingAddress,
		order.BillingAddress, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID = id
	return nil
}

// InsertOrderItems writes all items in one statement and assigns their ids.
// InnoDB hands out consecutive ids to a single multi-row insert.
func (q *queries) InsertOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*4)
	for _, item := range items {
		placeholders = append(placeholders, "(?, ?, ?, ?)")
		args = append(args, item.OrderID, item.ProductID, item.Quantity, item.PriceAtTime)
	}

	res, err := q.q.ExecContext(ctx,
		`INSERT INTO order_items (order_id, product_id, quantity, price_at_time) VALUES `+strings.Join(placeholders, ", "),
		args...)
	if err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	firstID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	for i := range items {
		items[i].ID = firstID + int64(i)
	}
	return nil
}

func (q *queries) getOrder(ctx context.Context, orderID int64, lock bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.q.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return o, nil
}

// LockOrder reads the order row without items and holds its row lock.
func (q *queries) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return q.getOrder(ctx, orderID, true)
}

// GetOrder returns the order together with its items.
func (q *queries) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := q.getOrder(ctx, orderID, false)
	if err != nil {
		return nil, err
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price_at_time
		FROM order_items
		WHERE order_id = ?
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	o.Items = []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.PriceAtTime); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	return o, nil
}

func (q *queries) listOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (q *queries) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return q.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (q *queries) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	return q.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
}

func (q *queries) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		string(status), orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectOneRow(res)
}
