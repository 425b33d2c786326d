package services

import (
	"context"
	"errors"
	"log"
	"time"

	"storefront-service/models"
	"storefront-service/store"
)

const priorityCancelled = 8

var errNotPending = errors.New("order is not pending")

type OrderService struct {
	store  OrderStore
	events EventPublisher
}

func NewOrderService(s OrderStore, events EventPublisher) *OrderService {
	return &OrderService{store: s, events: events}
}

func (s *OrderService) ListForUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, persistence("list user orders", err)
	}
	return orders, nil
}

func (s *OrderService) ListAll(ctx context.Context) ([]models.Order, error) {
	orders, err := s.store.ListAllOrders(ctx)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	return orders, nil
}

// Get returns the order with its items. Non-admin callers only see their
// own orders; other orders are reported as not found.
func (s *OrderService) Get(ctx context.Context, orderID, userID int64, isAdmin bool) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, persistence("get order", err)
	}
	if !isAdmin && order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// UpdateStatus moves the order to status if the transition is allowed.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	order, err := s.transition(ctx, orderID, status, func(current models.OrderStatus) error {
		if !current.CanTransitionTo(status) {
			return ErrInvalidStatusTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishStatusUpdated(ctx, order)
	return order, nil
}

// CancelIfPending cancels the order only while it is still pending. It
// reports whether the order was cancelled.
func (s *OrderService) CancelIfPending(ctx context.Context, orderID int64) (bool, error) {
	order, err := s.transition(ctx, orderID, models.OrderStatusCancelled, func(current models.OrderStatus) error {
		if current != models.OrderStatusPending {
			return errNotPending
		}
		return nil
	})
	if errors.Is(err, errNotPending) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.publishStatusUpdated(ctx, order)
	return true, nil
}

func (s *OrderService) transition(ctx context.Context, orderID int64, next models.OrderStatus, check func(models.OrderStatus) error) (*models.Order, error) {
	var order *models.Order
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if err := check(current.Status); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, next); err != nil {
			return err
		}
		current.Status = next
		current.UpdatedAt = time.Now().UTC().Truncate(time.Second)
		order = current
		return nil
	})
	if err != nil {
		return nil, passKnown(err, "update order status", ErrOrderNotFound, ErrInvalidStatusTransition, errNotPending)
	}
	return order, nil
}

func (s *OrderService) publishStatusUpdated(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}
	priority := uint8(priorityDefault)
	if order.Status == models.OrderStatusCancelled {
		priority = priorityCancelled
	}
	if err := s.events.PublishOrderEvent(context.WithoutCancel(ctx), models.NewOrderEvent(order, models.EventStatusUpdated), priority); err != nil {
		log.Printf("Failed to publish order updated event for order %d: %v", order.ID, err)
	}
}
