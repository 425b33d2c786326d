package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront-service/models"
	"storefront-service/store"
)

var (
	_ OrderStore   = (*store.Store)(nil)
	_ CartStore    = (*store.Store)(nil)
	_ CatalogStore = (*store.Store)(nil)
	_ store.Tx     = (*memTx)(nil)
)

// memState is the full contents of the fake database.
type memState struct {
	products map[int64]models.Product
	cart     map[int64]models.CartLine
	orders   map[int64]models.Order
	items    []models.OrderItem
	nextID   int64
}

func (s memState) clone() memState {
	c := memState{
		products: make(map[int64]models.Product, len(s.products)),
		cart:     make(map[int64]models.CartLine, len(s.cart)),
		orders:   make(map[int64]models.Order, len(s.orders)),
		items:    append([]models.OrderItem(nil), s.items...),
		nextID:   s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.cart {
		c.cart[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

// memStore serializes transactions with one mutex, which gives the same
// outcome as row locks for the tests here. A transaction works on a copy
// of the state that replaces the original only on commit.
type memStore struct {
	mu      sync.Mutex
	state   memState
	txCount int

	// failOp names a Tx method that returns failErr.
	failOp  string
	failErr error
	// blockTx makes InTx wait for the context to end.
	blockTx bool
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		products: map[int64]models.Product{},
		cart:     map[int64]models.CartLine{},
		orders:   map[int64]models.Order{},
		nextID:   1,
	}}
}

func (m *memStore) addProduct(id int64, price string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[id] = models.Product{
		ID:            id,
		Name:          fmt.Sprintf("Product %d", id),
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
}

func (m *memStore) addToCart(userID, productID int64, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.state.nextID
	m.state.nextID++
	m.state.cart[id] = models.CartLine{ID: id, UserID: userID, ProductID: productID, Quantity: quantity}
}

func (m *memStore) setPrice(productID int64, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.state.products[productID]
	p.Price = decimal.RequireFromString(price)
	m.state.products[productID] = p
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) stock(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.products[productID].StockQuantity
}

func (m *memStore) cartFor(userID int64) []models.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.cartLines(userID)
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *memStore) itemsFor(orderID int64) []models.OrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrderItem
	for _, item := range m.state.items {
		if item.OrderID == orderID {
			out = append(out, item)
		}
	}
	return out
}

func (s memState) cartLines(userID int64) []models.CartLine {
	var lines []models.CartLine
	for _, line := range s.cart {
		if line.UserID == userID {
			lines = append(lines, line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (m *memStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	if m.blockTx {
		<-ctx.Done()
		return ctx.Err()
	}

	tx := &memTx{state: m.state.clone(), failOp: m.failOp, failErr: m.failErr}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, item := range m.state.items {
		if item.OrderID == orderID {
			o.Items = append(o.Items, item)
		}
	}
	return &o, nil
}

func (m *memStore) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.state.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.state.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) ListCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return m.cartFor(userID), nil
}

func (m *memStore) UpdateCartLine(ctx context.Context, userID, lineID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.state.cart[lineID]
	if !ok || line.UserID != userID {
		return store.ErrNotFound
	}
	line.Quantity = quantity
	m.state.cart[lineID] = line
	return nil
}

func (m *memStore) RemoveCartLine(ctx context.Context, userID, lineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.state.cart[lineID]
	if !ok || line.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.state.cart, lineID)
	return nil
}

func (m *memStore) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListProducts(ctx context.Context, page store.Page, filters ...store.ProductFilter) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetStock(ctx context.Context, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.StockQuantity = quantity
	m.state.products[productID] = p
	return nil
}

type memTx struct {
	state   memState
	failOp  string
	failErr error
}

func (t *memTx) fail(op string) error {
	if t.failOp == op {
		return t.failErr
	}
	return nil
}

func (t *memTx) ReadCartWithProductInfo(ctx context.Context, userID int64) ([]models.CartProductLine, error) {
	if err := t.fail("ReadCartWithProductInfo"); err != nil {
		return nil, err
	}
	var lines []models.CartProductLine
	for _, line := range t.state.cartLines(userID) {
		p := t.state.products[line.ProductID]
		lines = append(lines, models.CartProductLine{
			ProductID:     line.ProductID,
			Quantity:      line.Quantity,
			Price:         p.Price,
			StockQuantity: p.StockQuantity,
		})
	}
	return lines, nil
}

func (t *memTx) DeleteAllCartLines(ctx context.Context, userID int64) error {
	if err := t.fail("DeleteAllCartLines"); err != nil {
		return err
	}
	for id, line := range t.state.cart {
		if line.UserID == userID {
			delete(t.state.cart, id)
		}
	}
	return nil
}

func (t *memTx) FindCartLine(ctx context.Context, userID, productID int64) (*models.CartLine, error) {
	for _, line := range t.state.cart {
		if line.UserID == userID && line.ProductID == productID {
			return &line, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) InsertCartLine(ctx context.Context, line *models.CartLine) error {
	if err := t.fail("InsertCartLine"); err != nil {
		return err
	}
	line.ID = t.state.nextID
	t.state.nextID++
	t.state.cart[line.ID] = *line
	return nil
}

func (t *memTx) UpdateCartLine(ctx context.Context, userID, lineID int64, quantity int) error {
	line, ok := t.state.cart[lineID]
	if !ok || line.UserID != userID {
		return store.ErrNotFound
	}
	line.Quantity = quantity
	t.state.cart[lineID] = line
	return nil
}

func (t *memTx) LockProduct(ctx context.Context, productID int64) (*models.Product, error) {
	p, ok := t.state.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, amount int) error {
	if err := t.fail("DecrementStock"); err != nil {
		return err
	}
	p, ok := t.state.products[productID]
	if !ok || p.StockQuantity < amount {
		return fmt.Errorf("product %d: %w", productID, store.ErrInsufficientStock)
	}
	p.StockQuantity -= amount
	t.state.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	order.ID = t.state.nextID
	t.state.nextID++
	t.state.orders[order.ID] = *order
	return nil
}

func (t *memTx) InsertOrderItems(ctx context.Context, items []models.OrderItem) error {
	if err := t.fail("InsertOrderItems"); err != nil {
		return err
	}
	for i := range items {
		items[i].ID = t.state.nextID
		t.state.nextID++
		t.state.items = append(t.state.items, items[i])
	}
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	o, ok := t.state.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	if err := t.fail("UpdateOrderStatus"); err != nil {
		return err
	}
	o, ok := t.state.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = status
	t.state.orders[orderID] = o
	return nil
}

type publishedEvent struct {
	event    models.OrderEvent
	priority uint8
	delay    time.Duration
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent, priority uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{event: event, priority: priority})
	return p.err
}

func (p *recordingPublisher) PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{event: event, delay: delay})
	return p.err
}

func (p *recordingPublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

// memKeys is an in-memory IdempotencyStore.
type memKeys struct {
	mu      sync.Mutex
	entries map[string]int64
	err     error
	// completeFailures makes the next n Complete calls fail.
	completeFailures int
	completeCalls    int
}

func newMemKeys() *memKeys {
	return &memKeys{entries: map[string]int64{}}
}

func (k *memKeys) Reserve(ctx context.Context, key string) (int64, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return 0, false, k.err
	}
	if id, ok := k.entries[key]; ok {
		return id, false, nil
	}
	k.entries[key] = 0
	return 0, true, nil
}

func (k *memKeys) Complete(ctx context.Context, key string, orderID int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.completeCalls++
	if k.completeFailures > 0 {
		k.completeFailures--
		return errStorage
	}
	k.entries[key] = orderID
	return nil
}

func (k *memKeys) Release(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.entries, key)
	return nil
}

var errStorage = errors.New("storage unavailable")
