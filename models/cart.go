package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// CartProductLine is a cart line joined with the product's current price
// and stock, as read at the start of an order placement.
type CartProductLine struct {
	ProductID     int64
	Quantity      int
	Price         decimal.Decimal
	StockQuantity int
}
