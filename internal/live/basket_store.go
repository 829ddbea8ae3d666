package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BasketStore owns every open-basket mutation for one live session. Stock
// availability is checked before any write; a failed check writes nothing.
//
// Check and write are separate round trips, so two operators racing for the
// last unit of a product can both pass the check. Quantities are validated
// again on every mutation, which keeps such an overshoot visible and bounded.
//
// With a ProgressStore (WithProgress), every mutation is refused once a
// finalization of the live has written its first checkpoint and until it
// completes.
type BasketStore struct {
	repo     Store
	liveID   string
	progress ProgressStore
	log      *zap.Logger
	events   emitter
	now      func() time.Time
}

func NewBasketStore(repo Store, liveID string, opts ...Option) *BasketStore {
	d := buildDeps(opts)
	return &BasketStore{
		repo:     repo,
		liveID:   liveID,
		progress: d.progress,
		log:      d.log.With(zap.String("live_id", liveID)),
		events:   d.emitter(),
		now:      d.now,
	}
}

// OpenBasket returns the customer's open basket in this session, creating it
// when none exists. existed reports that a basket was already open.
func (s *BasketStore) OpenBasket(ctx context.Context, customerID string) (b Basket, existed bool, err error) {
	const op = "openBasket"
	if _, err := s.activeSession(ctx, op); err != nil {
		return Basket{}, false, err
	}
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return Basket{}, false, fromRepo(op, "customer", customerID, err)
	}

	b, err = s.repo.FindOpenBasket(ctx, s.liveID, customerID)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Basket{}, false, fromRepo(op, "basket", customerID, err)
	}

	now := s.now()
	b, err = s.repo.CreateBasket(ctx, Basket{
		ID:         uuid.NewString(),
		LiveID:     s.liveID,
		CustomerID: customerID,
		State:      BasketOpen,
		Subtotal:   decimal.Zero,
		Total:      decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, ErrConflict) {
		// another operator opened it between our lookup and insert
		b, err = s.repo.FindOpenBasket(ctx, s.liveID, customerID)
		if err != nil {
			return Basket{}, false, fromRepo(op, "basket", customerID, err)
		}
		return b, true, nil
	}
	if err != nil {
		return Basket{}, false, backend(op, err)
	}
	s.log.Info("basket opened", zap.String("basket_id", b.ID), zap.String("customer_id", customerID))
	return b, false, nil
}

// AddItem adds one unit of productID to the basket.
func (s *BasketStore) AddItem(ctx context.Context, basketID, productID string) (Basket, error) {
	const op = "addItem"
	if _, err := s.activeSession(ctx, op); err != nil {
		return Basket{}, err
	}
	b, err := s.openBasket(ctx, op, basketID)
	if err != nil {
		return Basket{}, err
	}
	p, err := s.product(ctx, op, productID)
	if err != nil {
		return Basket{}, err
	}
	baskets, err := s.repo.ListOpenBaskets(ctx, s.liveID)
	if err != nil {
		return Basket{}, backend(op, err)
	}

	avail := AvailableFor(p, baskets, basketID)
	if avail < 1 {
		return Basket{}, insufficient(op, productID, 1, avail)
	}
	if existing, ok := b.Item(productID); ok {
		return s.UpdateQuantity(ctx, existing.ID, existing.Quantity+1)
	}

	it, err := s.repo.InsertItem(ctx, BasketItem{
		ID:        uuid.NewString(),
		BasketID:  basketID,
		ProductID: productID,
		Quantity:  1,
		UnitPrice: p.UnitPrice,
		UnitCost:  p.UnitCost,
		LineTotal: p.UnitPrice,
		CreatedAt: s.now(),
	})
	if err != nil {
		return Basket{}, backend(op, err)
	}
	s.log.Debug("item added", zap.String("basket_id", basketID), zap.String("item_id", it.ID), zap.String("product_id", productID))
	return s.recompute(ctx, op, basketID)
}

// UpdateQuantity sets an item's quantity. Anything below 1 removes the item.
func (s *BasketStore) UpdateQuantity(ctx context.Context, itemID string, qty int) (Basket, error) {
	const op = "updateQuantity"
	if qty < 1 {
		return s.RemoveItem(ctx, itemID)
	}
	if _, err := s.activeSession(ctx, op); err != nil {
		return Basket{}, err
	}
	it, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return Basket{}, fromRepo(op, "basket item", itemID, err)
	}
	b, err := s.openBasket(ctx, op, it.BasketID)
	if err != nil {
		return Basket{}, err
	}
	if qty == it.Quantity {
		return b, nil
	}
	p, err := s.repo.GetProduct(ctx, it.ProductID)
	if err != nil {
		return Basket{}, fromRepo(op, "product", it.ProductID, err)
	}
	baskets, err := s.repo.ListOpenBaskets(ctx, s.liveID)
	if err != nil {
		return Basket{}, backend(op, err)
	}

	// catalog stock minus other baskets' reservations; this line's own
	// current quantity is already inside that bound
	limit := AvailableFor(p, baskets, b.ID)
	if qty > limit {
		return Basket{}, insufficient(op, p.ID, qty, limit)
	}

	if err := s.repo.UpdateItemQuantity(ctx, itemID, qty, LineTotal(qty, it.UnitPrice)); err != nil {
		return Basket{}, fromRepo(op, "basket item", itemID, err)
	}
	return s.recompute(ctx, op, b.ID)
}

// RemoveItem deletes the line and re-derives the basket totals.
func (s *BasketStore) RemoveItem(ctx context.Context, itemID string) (Basket, error) {
	const op = "removeItem"
	if _, err := s.activeSession(ctx, op); err != nil {
		return Basket{}, err
	}
	it, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return Basket{}, fromRepo(op, "basket item", itemID, err)
	}
	if _, err := s.openBasket(ctx, op, it.BasketID); err != nil {
		return Basket{}, err
	}
	if err := s.repo.DeleteItem(ctx, itemID); err != nil {
		return Basket{}, fromRepo(op, "basket item", itemID, err)
	}
	s.log.Debug("item removed", zap.String("basket_id", it.BasketID), zap.String("item_id", itemID))
	return s.recompute(ctx, op, it.BasketID)
}

// recompute derives subtotal and total from the current item set; totals are
// never adjusted incrementally.
func (s *BasketStore) recompute(ctx context.Context, op, basketID string) (Basket, error) {
	b, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return Basket{}, fromRepo(op, "basket", basketID, err)
	}
	sub := SumLines(b.Items)
	if err := s.repo.UpdateBasketTotals(ctx, basketID, sub, sub); err != nil {
		return Basket{}, backend(op, err)
	}
	b.Subtotal, b.Total = sub, sub
	s.events.emit(TopicBasketUpdated, EventBasketUpdated, s.liveID, BasketUpdatedPayload{
		LiveID:   s.liveID,
		BasketID: b.ID,
		Total:    b.Total,
		Units:    b.Units(),
	})
	return b, nil
}

func (s *BasketStore) activeSession(ctx context.Context, op string) (Session, error) {
	sess, err := s.repo.GetSession(ctx, s.liveID)
	if err != nil {
		return Session{}, fromRepo(op, "live", s.liveID, err)
	}
	if sess.State != SessionActive {
		return Session{}, invalidState(op, "live %s is %s", s.liveID, sess.State)
	}
	if s.progress != nil {
		pending, err := s.progress.Pending(ctx, s.liveID)
		if err != nil {
			return Session{}, backend(op, fmt.Errorf("finalize progress: %w", err))
		}
		if pending {
			return Session{}, &Error{Kind: KindInProgress, Op: op, Msg: "live " + s.liveID + " is being finalized"}
		}
	}
	return sess, nil
}

func (s *BasketStore) openBasket(ctx context.Context, op, basketID string) (Basket, error) {
	b, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return Basket{}, fromRepo(op, "basket", basketID, err)
	}
	if b.LiveID != s.liveID {
		return Basket{}, &Error{Kind: KindNotFound, Op: op, Entity: "basket", ID: basketID, Msg: "not in this live"}
	}
	if b.State != BasketOpen {
		return Basket{}, invalidState(op, "basket %s is %s", basketID, b.State)
	}
	return b, nil
}

func (s *BasketStore) product(ctx context.Context, op, productID string) (Product, error) {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, fromRepo(op, "product", productID, err)
	}
	if !p.Active {
		return Product{}, invalidState(op, "product %s is inactive", productID)
	}
	return p, nil
}
