package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront-service/models"
	"storefront-service/store"
)

const (
	defaultPlacementTimeout = 5 * time.Second

	completeAttempts = 3

	priorityDefault = 5
	priorityLarge   = 9
)

// orders above this total are published with a higher priority
var largeOrderTotal = decimal.NewFromInt(1000)

type PlaceOrderRequest struct {
	UserID          int64
	ShippingAddress string
	BillingAddress  string
	// IdempotencyKey is optional. Repeating a request with the same key
	// returns the order placed by the first one.
	IdempotencyKey string
}

func (r PlaceOrderRequest) validate() error {
	if strings.TrimSpace(r.ShippingAddress) == "" || strings.TrimSpace(r.BillingAddress) == "" {
		return ErrInvalidAddress
	}
	return nil
}

type PlacementConfig struct {
	Timeout time.Duration
	// PaymentCheckDelay schedules a payment_check event that cancels the
	// order if it is still pending. Zero disables it.
	PaymentCheckDelay time.Duration
}

// PlacementService turns a user's cart into an order.
type PlacementService struct {
	orders OrderStore
	events EventPublisher
	keys   IdempotencyStore
	cfg    PlacementConfig
	now    func() time.Time
}

// NewPlacementService wires the placement service. events and keys may be
// nil, which disables event publishing and idempotency keys respectively.
func NewPlacementService(orders OrderStore, events EventPublisher, keys IdempotencyStore, cfg PlacementConfig) *PlacementService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPlacementTimeout
	}
	return &PlacementService{
		orders: orders,
		events: events,
		keys:   keys,
		cfg:    cfg,
		now:    time.Now,
	}
}

// PlaceOrder converts the user's whole cart into one pending order. The
// order, its items, the stock decrements and the cart deletion are written
// in a single transaction; on any error none of them is visible.
func (s *PlacementService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" || s.keys == nil {
		return s.place(ctx, req)
	}

	key := fmt.Sprintf("user:%d:%s", req.UserID, req.IdempotencyKey)
	orderID, reserved, err := s.keys.Reserve(ctx, key)
	if err != nil {
		return nil, persistence("reserve idempotency key", err)
	}
	if !reserved {
		if orderID == 0 {
			return nil, ErrDuplicateRequest
		}
		order, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return nil, persistence("load order for idempotency key", err)
		}
		return order, nil
	}

	order, err := s.place(ctx, req)
	if err != nil {
		if relErr := s.keys.Release(context.WithoutCancel(ctx), key); relErr != nil {
			log.Printf("Failed to release idempotency key %s: %v", key, relErr)
		}
		return nil, err
	}

	s.completeKey(context.WithoutCancel(ctx), key, order.ID)
	return order, nil
}

// completeKey records the order id under key. If every attempt fails the key
// stays pending, so retries are rejected as duplicates until it expires.
func (s *PlacementService) completeKey(ctx context.Context, key string, orderID int64) {
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = s.keys.Complete(ctx, key, orderID); err == nil {
			return
		}
		log.Printf("Failed to record idempotency key %s for order %d (attempt %d/%d): %v", key, orderID, attempt, completeAttempts, err)
	}
}

func (s *PlacementService) place(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var order *models.Order
	err := s.orders.InTx(ctx, func(tx store.Tx) error {
		// Prices and stock are read once here; the same snapshot feeds the
		// stock check, the total and price_at_time.
		lines, err := tx.ReadCartWithProductInfo(ctx, req.UserID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}
		for _, line := range lines {
			if line.Quantity > line.StockQuantity {
				return &InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: line.StockQuantity}
			}
		}

		now := s.now().UTC().Truncate(time.Second)
		o := &models.Order{
			UserID:          req.UserID,
			TotalAmount:     CartTotal(lines),
			Status:          models.OrderStatusPending,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			items = append(items, models.OrderItem{
				OrderID:     o.ID,
				ProductID:   line.ProductID,
				Quantity:    line.Quantity,
				PriceAtTime: line.Price,
			})
		}
		if err := tx.InsertOrderItems(ctx, items); err != nil {
			return err
		}

		for _, line := range lines {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return &InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: line.StockQuantity}
				}
				return err
			}
		}

		if err := tx.DeleteAllCartLines(ctx, req.UserID); err != nil {
			return err
		}

		o.Items = items
		order = o
		return nil
	})
	if err != nil {
		return nil, passKnown(err, "place order", ErrEmptyCart)
	}

	s.publishCreated(ctx, order)
	return order, nil
}

// CartTotal is sum(quantity * price) rounded to the currency's minor unit.
func CartTotal(lines []models.CartProductLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total.Round(models.MoneyPlaces)
}

// publishCreated runs after commit; failures are logged and never undo the
// order.
func (s *PlacementService) publishCreated(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	priority := uint8(priorityDefault)
	if order.TotalAmount.GreaterThan(largeOrderTotal) {
		priority = priorityLarge
	}
	if err := s.events.PublishOrderEvent(ctx, models.NewOrderEvent(order, models.EventCreated), priority); err != nil {
		log.Printf("Failed to publish order created event for order %d: %v", order.ID, err)
	}
	if s.cfg.PaymentCheckDelay <= 0 {
		return
	}
	if err := s.events.PublishDelayedEvent(ctx, models.NewOrderEvent(order, models.EventPaymentCheck), s.cfg.PaymentCheckDelay); err != nil {
		log.Printf("Failed to publish delayed payment check for order %d: %v", order.ID, err)
	}
}
