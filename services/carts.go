package services

import (
	"context"
	"errors"
	"time"

	"storefront-service/models"
	"storefront-service/store"
)

type CartService struct {
	store CartStore
	now   func() time.Time
}

func NewCartService(s CartStore) *CartService {
	return &CartService{store: s, now: time.Now}
}

// AddToCart adds quantity units of the product to the user's cart, merging
// with an existing line. The resulting line may not exceed current stock.
func (s *CartService) AddToCart(ctx context.Context, userID, productID int64, quantity int) (*models.CartLine, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var line *models.CartLine
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		product, err := tx.LockProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrProductNotFound
		}
		if err != nil {
			return err
		}

		existing, err := tx.FindCartLine(ctx, userID, productID)
		switch {
		case err == nil:
			total := existing.Quantity + quantity
			if total > product.StockQuantity {
				return &InsufficientStockError{ProductID: productID, Requested: total, Available: product.StockQuantity}
			}
			if err := tx.UpdateCartLine(ctx, userID, existing.ID, total); err != nil {
				return err
			}
			existing.Quantity = total
			line = existing
			return nil
		case errors.Is(err, store.ErrNotFound):
			if quantity > product.StockQuantity {
				return &InsufficientStockError{ProductID: productID, Requested: quantity, Available: product.StockQuantity}
			}
			line = &models.CartLine{
				UserID:    userID,
				ProductID: productID,
				Quantity:  quantity,
				AddedAt:   s.now().UTC().Truncate(time.Second),
			}
			if err := tx.InsertCartLine(ctx, line); err != nil {
				if errors.Is(err, store.ErrUserNotFound) {
					return ErrUserNotFound
				}
				return err
			}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, passKnown(err, "add to cart", ErrProductNotFound, ErrUserNotFound)
	}
	return line, nil
}

func (s *CartService) UpdateCartLine(ctx context.Context, userID, lineID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if err := s.store.UpdateCartLine(ctx, userID, lineID, quantity); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCartLineNotFound
		}
		return persistence("update cart line", err)
	}
	return nil
}

func (s *CartService) RemoveCartLine(ctx context.Context, userID, lineID int64) error {
	if err := s.store.RemoveCartLine(ctx, userID, lineID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCartLineNotFound
		}
		return persistence("remove cart line", err)
	}
	return nil
}

func (s *CartService) ListCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	lines, err := s.store.ListCart(ctx, userID)
	if err != nil {
		return nil, persistence("list cart", err)
	}
	return lines, nil
}

// passKnown returns err unchanged when it is one of the service's own
// errors and wraps anything else as a persistence failure.
func passKnown(err error, op string, known ...error) error {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return err
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return persistence(op, err)
}
