package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storefront-service/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	alice int64 = 1
	bob   int64 = 2

	productA int64 = 100
	productB int64 = 200
)

func placeRequest(userID int64) PlaceOrderRequest {
	return PlaceOrderRequest{
		UserID:          userID,
		ShippingAddress: "1 Main St",
		BillingAddress:  "1 Main St",
	}
}

// seededStore holds A (100.00, stock 10) and B (50.00, stock 5) with alice's
// cart containing 2 x A and 1 x B.
func seededStore() *memStore {
	s := newMemStore()
	s.addProduct(productA, "100.00", 10)
	s.addProduct(productB, "50.00", 5)
	s.addToCart(alice, productA, 2)
	s.addToCart(alice, productB, 1)
	return s
}

func TestPlaceOrder_Success(t *testing.T) {
	st := seededStore()
	events := &recordingPublisher{}
	svc := NewPlacementService(st, events, nil, PlacementConfig{})
	fixed := time.Date(2024, 3, 1, 12, 30, 45, 500, time.UTC)
	svc.now = func() time.Time { return fixed }

	order, err := svc.PlaceOrder(context.Background(), placeRequest(alice))
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, alice, order.UserID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("250.00").Equal(order.TotalAmount), "total %s", order.TotalAmount)
	assert.Equal(t, fixed.Truncate(time.Second), order.CreatedAt)

	items := st.itemsFor(order.ID)
	require.Len(t, items, 2)
	byProduct := map[int64]models.OrderItem{}
	for _, item := range items {
		byProduct[item.ProductID] = item
	}
	assert.Equal(t, 2, byProduct[productA].Quantity)
	assert.True(t, decimal.RequireFromString("100.00").Equal(byProduct[productA].PriceAtTime))
	assert.Equal(t, 1, byProduct[productB].Quantity)
	assert.True(t, decimal.RequireFromString("50.00").Equal(byProduct[productB].PriceAtTime))

	assert.Equal(t, 8, st.stock(productA))
	assert.Equal(t, 4, st.stock(productB))
	assert.Empty(t, st.cartFor(alice))
}

func TestPlaceOrder_TotalMatchesItems(t *testing.T) {
	st := newMemStore()
	st.addProduct(1, "19.99", 10)
	st.addProduct(2, "0.10", 10)
	st.addProduct(3, "1234.56", 10)
	st.addToCart(alice, 1, 3)
	st.addToCart(alice, 2, 7)
	st.addToCart(alice, 3, 1)

	order, err := NewPlacementService(st, nil, nil, PlacementConfig{}).PlaceOrder(context.Background(), placeRequest(alice))
	require.NoError(t, err)

	sum := decimal.Zero
	for _, item := range st.itemsFor(order.ID) {
		sum = sum.Add(item.Subtotal())
	}
	assert.True(t, sum.Equal(order.TotalAmount), "items %s != total %s", sum, order.TotalAmount)
	assert.Equal(t, "1295.23", order.TotalAmount.StringFixed(2))
}

func TestPlaceOrder_PriceSnapshot(t *testing.T) {
	st := seededStore()
	svc := NewPlacementService(st, nil, nil, PlacementConfig{})

	order, err := svc.PlaceOrder(context.Background(), placeRequest(alice))
	require.NoError(t, err)

	st.setPrice(productA, "999.99")

	for _, item := range st.itemsFor(order.ID) {
		if item.ProductID == productA {
			assert.Equal(t, "100.00", item.PriceAtTime.StringFixed(2))
		}
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	st := newMemStore()
	st.addProduct(productA, "100.00", 10)
	before := st.snapshot()

	_, err := NewPlacementService(st, nil, nil, PlacementConfig{}).PlaceOrder(context.Background(), placeRequest(alice))

	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, before, st.snapshot())
}

func TestPlaceOrder_InsufficientStockRollsBack(t *testing.T) {
	st := newMemStore()
	st.addProduct(productA, "100.00", 10)
	st.addProduct(productB, "50.00", 1)
	st.addToCart(alice, productA, 2)
	st.addToCart(alice, productB, 3)
	before := st.snapshot()

	_, err := NewPlacementService(st, nil, nil, PlacementConfig{}).PlaceOrder(context.Background(), placeRequest(alice))

	require.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, productB, stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, before, st.snapshot())
	assert.Zero(t, st.orderCount())
}

func TestPlaceOrder_InvalidAddressSkipsStorage(t *testing.T) {
	tests := []struct {
		name     string
		shipping string
		billing  string
	}{
		{"empty shipping", "", "1 Main St"},
		{"blank billing", "1 Main St", "   \t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := seededStore()
			svc := NewPlacementService(st, nil, nil, PlacementConfig{})

			_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				UserID:          alice,
				ShippingAddress: tt.shipping,
				BillingAddress:  tt.billing,
			})

			assert.ErrorIs(t, err, ErrInvalidAddress)
			assert.Zero(t, st.txCount)
		})
	}
}

func TestPlaceOrder_StorageFailureLeavesNoTrace(t *testing.T) {
	for _, op := range []string{"ReadCartWithProductInfo", "InsertOrder", "InsertOrderItems", "DecrementStock", "DeleteAllCartLines"} {
		t.Run(op, func(t *testing.T) {
			st := seededStore()
			st.failOp = op
			st.failErr = errStorage
			before := st.snapshot()

			_, err := NewPlacementService(st, nil, nil, PlacementConfig{}).PlaceOrder(context.Background(), placeRequest(alice))

			assert.ErrorIs(t, err, ErrPersistence)
			assert.ErrorIs(t, err, errStorage)
			assert.Equal(t, before, st.snapshot())
		})
	}
}

func TestPlaceOrder_Timeout(t *testing.T) {
	st := seededStore()
	st.blockTx = true
	svc := NewPlacementService(st, nil, nil, PlacementConfig{Timeout: 20 * time.Millisecond})

	_, err := svc.PlaceOrder(context.Background(), placeRequest(alice))

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPlaceOrder_ConcurrentOverdraw(t *testing.T) {
	st := newMemStore()
	st.addProduct(productA, "10.00", 5)
	st.addToCart(alice, productA, 3)
	st.addToCart(bob, productA, 3)
	svc := NewPlacementService(st, nil, nil, PlacementConfig{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []int64{alice, bob} {
		wg.Add(1)
		go func(i int, user int64) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), placeRequest(user))
		}(i, user)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrInsufficientStock):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 2, st.stock(productA))
	assert.Equal(t, 1, st.orderCount())
}

func TestPlaceOrder_SameUserTwice(t *testing.T) {
	st := seededStore()
	svc := NewPlacementService(st, nil, nil, PlacementConfig{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), placeRequest(alice))
		}(i)
	}
	wg.Wait()

	var won, empty int
	for _, err := range errs {
		if err == nil {
			won++
		} else if errors.Is(err, ErrEmptyCart) {
			empty++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, empty)
	assert.Equal(t, 8, st.stock(productA))
}

func TestPlaceOrder_IdempotencyKeyReplaysOrder(t *testing.T) {
	st := seededStore()
	keys := newMemKeys()
	svc := NewPlacementService(st, nil, keys, PlacementConfig{})
	req := placeRequest(alice)
	req.IdempotencyKey = "checkout-1"

	first, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, st.orderCount())
	assert.Equal(t, first.ID, keys.entries["user:1:checkout-1"])
}

func TestPlaceOrder_IdempotencyKeyInFlight(t *testing.T) {
	st := seededStore()
	keys := newMemKeys()
	keys.entries["user:1:checkout-1"] = 0
	svc := NewPlacementService(st, nil, keys, PlacementConfig{})
	req := placeRequest(alice)
	req.IdempotencyKey = "checkout-1"

	_, err := svc.PlaceOrder(context.Background(), req)

	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Zero(t, st.txCount)
}

func TestPlaceOrder_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	st := newMemStore()
	keys := newMemKeys()
	svc := NewPlacementService(st, nil, keys, PlacementConfig{})
	req := placeRequest(alice)
	req.IdempotencyKey = "checkout-1"

	_, err := svc.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.NotContains(t, keys.entries, "user:1:checkout-1")

	st.addProduct(productA, "5.00", 1)
	st.addToCart(alice, productA, 1)
	order, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "5.00", order.TotalAmount.StringFixed(2))
}

func TestPlaceOrder_IdempotencyCompleteRetried(t *testing.T) {
	st := seededStore()
	keys := newMemKeys()
	keys.completeFailures = completeAttempts - 1
	svc := NewPlacementService(st, nil, keys, PlacementConfig{})
	req := placeRequest(alice)
	req.IdempotencyKey = "checkout-1"

	first, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, completeAttempts, keys.completeCalls)

	st.addToCart(alice, productA, 1)
	second, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, st.orderCount())
}

func TestPlaceOrder_IdempotencyCompleteFailsKeepsKeyPending(t *testing.T) {
	st := seededStore()
	keys := newMemKeys()
	keys.completeFailures = completeAttempts
	svc := NewPlacementService(st, nil, keys, PlacementConfig{})
	req := placeRequest(alice)
	req.IdempotencyKey = "checkout-1"

	_, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, completeAttempts, keys.completeCalls)

	// the cart is refilled so a second placement would succeed if allowed
	st.addToCart(alice, productA, 1)
	_, err = svc.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 1, st.orderCount())
}

func TestPlaceOrder_IdempotencyKeysAreScopedPerUser(t *testing.T) {
	st := seededStore()
	st.addToCart(bob, productB, 1)
	svc := NewPlacementService(st, nil, newMemKeys(), PlacementConfig{})

	a := placeRequest(alice)
	a.IdempotencyKey = "same"
	b := placeRequest(bob)
	b.IdempotencyKey = "same"

	first, err := svc.PlaceOrder(context.Background(), a)
	require.NoError(t, err)
	second, err := svc.PlaceOrder(context.Background(), b)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestPlaceOrder_IdempotencyStoreDown(t *testing.T) {
	st := seededStore()
	keys := newMemKeys()
	keys.err = errStorage
	req := placeRequest(alice)
	req.IdempotencyKey = "checkout-1"

	_, err := NewPlacementService(st, nil, keys, PlacementConfig{}).PlaceOrder(context.Background(), req)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, st.orderCount())
}

func TestPlaceOrder_PublishesEvents(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		priority uint8
	}{
		{"regular order", "100.00", priorityDefault},
		{"large order", "1000.01", priorityLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			st.addProduct(productA, tt.price, 1)
			st.addToCart(alice, productA, 1)
			events := &recordingPublisher{}
			svc := NewPlacementService(st, events, nil, PlacementConfig{PaymentCheckDelay: time.Minute})

			order, err := svc.PlaceOrder(context.Background(), placeRequest(alice))
			require.NoError(t, err)

			published := events.published()
			require.Len(t, published, 2)
			assert.Equal(t, models.EventCreated, published[0].event.Type)
			assert.Equal(t, order.ID, published[0].event.OrderID)
			assert.Equal(t, tt.priority, published[0].priority)
			assert.Equal(t, models.EventPaymentCheck, published[1].event.Type)
			assert.Equal(t, time.Minute, published[1].delay)
		})
	}
}

func TestPlaceOrder_NoPaymentCheckByDefault(t *testing.T) {
	st := seededStore()
	events := &recordingPublisher{}

	order, err := NewPlacementService(st, events, nil, PlacementConfig{}).PlaceOrder(context.Background(), placeRequest(alice))
	require.NoError(t, err)

	published := events.published()
	require.Len(t, published, 1)
	assert.Equal(t, models.EventCreated, published[0].event.Type)

	stored, err := st.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestPlaceOrder_PublishFailureKeepsOrder(t *testing.T) {
	st := seededStore()
	events := &recordingPublisher{err: errors.New("broker down")}

	order, err := NewPlacementService(st, events, nil, PlacementConfig{}).PlaceOrder(context.Background(), placeRequest(alice))

	require.NoError(t, err)
	assert.Equal(t, 1, st.orderCount())
	assert.NotZero(t, order.ID)
}

func TestPlaceOrder_NoEventsOnFailure(t *testing.T) {
	st := newMemStore()
	events := &recordingPublisher{}

	_, err := NewPlacementService(st, events, nil, PlacementConfig{}).PlaceOrder(context.Background(), placeRequest(alice))

	require.Error(t, err)
	assert.Empty(t, events.published())
}

func TestCartTotal(t *testing.T) {
	lines := []models.CartProductLine{
		{ProductID: 1, Quantity: 3, Price: decimal.RequireFromString("0.335")},
		{ProductID: 2, Quantity: 2, Price: decimal.RequireFromString("10.00")},
	}
	assert.Equal(t, "21.01", CartTotal(lines).StringFixed(2))
	assert.True(t, CartTotal(nil).IsZero())
}
