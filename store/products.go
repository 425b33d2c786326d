package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/models"
)

const productColumns = `id, name, COALESCE(description, ''), price, stock_quantity, category_id, brand, model, is_featured, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
		&p.CategoryID, &p.Brand, &p.Model, &p.IsFeatured, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) getProduct(ctx context.Context, productID int64, lock bool) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(q.q.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", productID, err)
	}
	return p, nil
}

func (q *queries) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	return q.getProduct(ctx, productID, false)
}

// LockProduct reads the product and holds its row lock until the
// surrounding transaction ends.
func (q *queries) LockProduct(ctx context.Context, productID int64) (*models.Product, error) {
	return q.getProduct(ctx, productID, true)
}

// ListProducts returns matching products, newest first.
func (q *queries) ListProducts(ctx context.Context, page Page, filters ...ProductFilter) ([]models.Product, error) {
	where, args := buildProductWhere(filters)
	limit, limitArgs := page.clause()
	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY created_at DESC, id DESC` + limit
	rows, err := q.q.QueryContext(ctx, query, append(args, limitArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// DecrementStock removes amount units from the product's stock. The update
// only applies while enough stock remains, so stock never goes negative;
// otherwise ErrInsufficientStock is returned.
func (q *queries) DecrementStock(ctx context.Context, productID int64, amount int) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - ?, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND stock_quantity >= ?`, amount, productID, amount)
	if err != nil {
		return fmt.Errorf("decrement stock for product %d: %w", productID, err)
	}
	if err := expectOneRow(res); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
		}
		return err
	}
	return nil
}

// SetStock is the admin edit of the stock ledger.
func (q *queries) SetStock(ctx context.Context, productID int64, quantity int) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE products SET stock_quantity = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("set stock for product %d: %w", productID, err)
	}
	return expectOneRow(res)
}
