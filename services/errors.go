package services

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrInvalidAddress          = errors.New("shipping and billing addresses are required")
	ErrInvalidQuantity         = errors.New("quantity must be a positive integer")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrDuplicateRequest        = errors.New("an order with this idempotency key is already being placed")
	ErrPersistence             = errors.New("persistence failure")
	ErrProductNotFound         = errors.New("product not found")
	ErrCartLineNotFound        = errors.New("cart item not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidStatus           = errors.New("invalid order status")
	ErrInvalidStatusTransition = errors.New("order status transition not allowed")
	ErrInvalidPage             = errors.New("limit must be positive and offset non-negative")
)

// InsufficientStockError identifies the cart line that cannot be covered by
// the product's current stock. It matches ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PersistenceError wraps a storage failure or timeout. Nothing was written
// when it is returned, so the caller may retry the whole operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + ErrPersistence.Error() + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
