// Package memstore is an in-memory live.Store with fault injection, used to
// exercise the live-session core without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu         sync.Mutex
	products   map[string]live.Product
	customers  map[string]live.Customer
	sessions   map[string]live.Session
	baskets    map[string]live.Basket
	items      map[string]live.BasketItem
	orders     map[string]live.Order
	orderItems map[string]live.OrderItem

	calls  map[string]int
	failAt map[string]map[int]error
	hooks  map[string]func()
}

var _ live.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products:   map[string]live.Product{},
		customers:  map[string]live.Customer{},
		sessions:   map[string]live.Session{},
		baskets:    map[string]live.Basket{},
		items:      map[string]live.BasketItem{},
		orders:     map[string]live.Order{},
		orderItems: map[string]live.OrderItem{},
		calls:      map[string]int{},
		failAt:     map[string]map[int]error{},
		hooks:      map[string]func(){},
	}
}

// ---- test controls ----

// FailNext makes the next call of op (a method name such as "AdjustStock") return err.
func (s *Store) FailNext(op string, err error) { s.FailNth(op, 1, err) }

// FailNth makes the n-th call of op from now return err.
func (s *Store) FailNth(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt[op] == nil {
		s.failAt[op] = map[int]error{}
	}
	s.failAt[op][s.calls[op]+n] = err
}

// OnCall runs fn at the start of every call of op, outside the store lock.
func (s *Store) OnCall(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[op] = fn
}

func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) check(op string) error {
	s.mu.Lock()
	s.calls[op]++
	n := s.calls[op]
	var err error
	if q := s.failAt[op]; q != nil {
		if e, ok := q[n]; ok {
			err = e
			delete(q, n)
		}
	}
	hook := s.hooks[op]
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// ---- seeding / inspection ----

func (s *Store) PutProduct(p live.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutCustomer(c live.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

func (s *Store) PutSession(sess live.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// Orders returns every order, oldest first.
func (s *Store) Orders() []live.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) OrderItems(orderID string) []live.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []live.OrderItem
	for _, it := range s.orderItems {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// ---- products ----

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]live.Product, error) {
	if err := s.check("ListProducts"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (live.Product, error) {
	if err := s.check("GetProduct"); err != nil {
		return live.Product{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return live.Product{}, live.ErrNotFound
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p live.Product) (live.Product, error) {
	if err := s.check("CreateProduct"); err != nil {
		return live.Product{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return p, nil
}

// AdjustStock mirrors the SQL statement and its check constraint: a delta
// that would leave negative stock fails and changes nothing.
func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) error {
	if err := s.check("AdjustStock"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return live.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return fmt.Errorf("product %s has %d, delta %d: %w", productID, p.Stock, delta, live.ErrNegativeStock)
	}
	p.Stock += delta
	s.products[productID] = p
	return nil
}

// ---- customers ----

func (s *Store) ListCustomers(ctx context.Context) ([]live.Customer, error) {
	if err := s.check("ListCustomers"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (live.Customer, error) {
	if err := s.check("GetCustomer"); err != nil {
		return live.Customer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return live.Customer{}, live.ErrNotFound
	}
	return c, nil
}

// ---- sessions ----

func (s *Store) GetSession(ctx context.Context, liveID string) (live.Session, error) {
	if err := s.check("GetSession"); err != nil {
		return live.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[liveID]
	if !ok {
		return live.Session{}, live.ErrNotFound
	}
	return sess, nil
}

func (s *Store) FindActiveSession(ctx context.Context) (live.Session, error) {
	if err := s.check("FindActiveSession"); err != nil {
		return live.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  live.Session
		found bool
	)
	for _, sess := range s.sessions {
		if sess.State != live.SessionActive {
			continue
		}
		if !found || sess.ScheduledAt.After(best.ScheduledAt) {
			best, found = sess, true
		}
	}
	if !found {
		return live.Session{}, live.ErrNotFound
	}
	return best, nil
}

func (s *Store) UpdateSessionState(ctx context.Context, liveID string, state live.SessionState) error {
	if err := s.check("UpdateSessionState"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[liveID]
	if !ok {
		return live.ErrNotFound
	}
	sess.State = state
	s.sessions[liveID] = sess
	return nil
}

// ---- baskets ----

func (s *Store) withItems(b live.Basket) live.Basket {
	b.Items = nil
	for _, it := range s.items {
		if it.BasketID == b.ID {
			b.Items = append(b.Items, it)
		}
	}
	sort.Slice(b.Items, func(i, j int) bool {
		if !b.Items[i].CreatedAt.Equal(b.Items[j].CreatedAt) {
			return b.Items[i].CreatedAt.Before(b.Items[j].CreatedAt)
		}
		return b.Items[i].ID < b.Items[j].ID
	})
	return b
}

func (s *Store) ListOpenBaskets(ctx context.Context, liveID string) ([]live.Basket, error) {
	if err := s.check("ListOpenBaskets"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []live.Basket
	for _, b := range s.baskets {
		if b.LiveID == liveID && b.State == live.BasketOpen {
			out = append(out, s.withItems(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetBasket(ctx context.Context, basketID string) (live.Basket, error) {
	if err := s.check("GetBasket"); err != nil {
		return live.Basket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baskets[basketID]
	if !ok {
		return live.Basket{}, live.ErrNotFound
	}
	return s.withItems(b), nil
}

func (s *Store) FindOpenBasket(ctx context.Context, liveID, customerID string) (live.Basket, error) {
	if err := s.check("FindOpenBasket"); err != nil {
		return live.Basket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.baskets {
		if b.LiveID == liveID && b.CustomerID == customerID && b.State == live.BasketOpen {
			return s.withItems(b), nil
		}
	}
	return live.Basket{}, live.ErrNotFound
}

func (s *Store) CreateBasket(ctx context.Context, b live.Basket) (live.Basket, error) {
	if err := s.check("CreateBasket"); err != nil {
		return live.Basket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.baskets {
		if other.LiveID == b.LiveID && other.CustomerID == b.CustomerID && other.State == live.BasketOpen {
			return live.Basket{}, fmt.Errorf("open basket for customer %s: %w", b.CustomerID, live.ErrConflict)
		}
	}
	b.Items = nil
	s.baskets[b.ID] = b
	return b, nil
}

func (s *Store) UpdateBasketTotals(ctx context.Context, basketID string, subtotal, total decimal.Decimal) error {
	if err := s.check("UpdateBasketTotals"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baskets[basketID]
	if !ok {
		return live.ErrNotFound
	}
	b.Subtotal, b.Total = subtotal, total
	s.baskets[basketID] = b
	return nil
}

func (s *Store) UpdateBasketState(ctx context.Context, basketID string, state live.BasketState) error {
	if err := s.check("UpdateBasketState"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baskets[basketID]
	if !ok {
		return live.ErrNotFound
	}
	b.State = state
	s.baskets[basketID] = b
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (live.BasketItem, error) {
	if err := s.check("GetItem"); err != nil {
		return live.BasketItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return live.BasketItem{}, live.ErrNotFound
	}
	return it, nil
}

func (s *Store) InsertItem(ctx context.Context, it live.BasketItem) (live.BasketItem, error) {
	if err := s.check("InsertItem"); err != nil {
		return live.BasketItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.baskets[it.BasketID]; !ok {
		return live.BasketItem{}, live.ErrNotFound
	}
	s.items[it.ID] = it
	return it, nil
}

func (s *Store) UpdateItemQuantity(ctx context.Context, itemID string, qty int, lineTotal decimal.Decimal) error {
	if err := s.check("UpdateItemQuantity"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return live.ErrNotFound
	}
	it.Quantity, it.LineTotal = qty, lineTotal
	s.items[itemID] = it
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	if err := s.check("DeleteItem"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return live.ErrNotFound
	}
	delete(s.items, itemID)
	return nil
}

// ---- orders ----

// CreateOrder is idempotent on the order id, like the SQL ON CONFLICT insert.
func (s *Store) CreateOrder(ctx context.Context, o live.Order) (live.Order, error) {
	if err := s.check("CreateOrder"); err != nil {
		return live.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orders[o.ID]; ok {
		return existing, nil
	}
	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) InsertOrderItem(ctx context.Context, it live.OrderItem) error {
	if err := s.check("InsertOrderItem"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[it.OrderID]; !ok {
		return live.ErrNotFound
	}
	if _, ok := s.orderItems[it.ID]; ok {
		return nil
	}
	s.orderItems[it.ID] = it
	return nil
}

func (s *Store) ListOrdersByLive(ctx context.Context, liveID string) ([]live.Order, error) {
	if err := s.check("ListOrdersByLive"); err != nil {
		return nil, err
	}
	var out []live.Order
	for _, o := range s.Orders() {
		if o.LiveID == liveID {
			out = append(out, o)
		}
	}
	return out, nil
}
