package services

import (
	"context"
	"time"

	"storefront-service/models"
	"storefront-service/store"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx store.Tx) error) error
}

type OrderStore interface {
	TxRunner
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListAllOrders(ctx context.Context) ([]models.Order, error)
}

type CartStore interface {
	TxRunner
	ListCart(ctx context.Context, userID int64) ([]models.CartLine, error)
	UpdateCartLine(ctx context.Context, userID, lineID int64, quantity int) error
	RemoveCartLine(ctx context.Context, userID, lineID int64) error
}

type CatalogStore interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
	ListProducts(ctx context.Context, page store.Page, filters ...store.ProductFilter) ([]models.Product, error)
	SetStock(ctx context.Context, productID int64, quantity int) error
}

// EventPublisher delivers order events after the owning transaction has
// committed.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent, priority uint8) error
	PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error
}

// IdempotencyStore maps caller-supplied request keys to placed orders.
//
// Reserve claims key for a new placement and reports reserved=true. When
// the key is already taken it reports reserved=false together with the
// order id recorded by Complete, or 0 while that placement is in flight.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (orderID int64, reserved bool, err error)
	Complete(ctx context.Context, key string, orderID int64) error
	Release(ctx context.Context, key string) error
}
