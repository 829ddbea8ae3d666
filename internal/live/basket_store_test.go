package live_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/shopspring/decimal"
)

func TestOpenBasket_ReturnsExistingOpenBasket(t *testing.T) {
	f := newFixture(t)
	bs := f.baskets(t)
	ctx := context.Background()

	first, existed, err := bs.OpenBasket(ctx, "c-x")
	if err != nil || existed {
		t.Fatalf("first open: existed=%v err=%v", existed, err)
	}
	second, existed, err := bs.OpenBasket(ctx, "c-x")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if !existed || second.ID != first.ID {
		t.Fatalf("second open returned %s (existed=%v), want %s", second.ID, existed, first.ID)
	}
	if n := len(f.openBaskets(t)); n != 1 {
		t.Fatalf("open baskets = %d, want 1", n)
	}
	if !first.Total.IsZero() || first.State != live.BasketOpen {
		t.Errorf("new basket = %+v, want open with zero total", first)
	}
}

func TestOpenBasket_ConcurrentOpenSharesOneBasket(t *testing.T) {
	f := newFixture(t)
	bs := f.baskets(t)

	// both callers miss the lookup before either inserts
	var gate sync.WaitGroup
	gate.Add(2)
	f.store.OnCall("CreateBasket", func() {
		gate.Done()
		gate.Wait()
	})

	var wg sync.WaitGroup
	got := make([]live.Basket, 2)
	existed := make([]bool, 2)
	errs := make([]error, 2)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], existed[i], errs[i] = bs.OpenBasket(context.Background(), "c-x")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("OpenBasket %d: %v", i, err)
		}
	}
	if got[0].ID != got[1].ID {
		t.Errorf("callers got different baskets %s and %s", got[0].ID, got[1].ID)
	}
	if existed[0] == existed[1] {
		t.Errorf("existed = %v, want exactly one creator", existed)
	}
	if n := len(f.openBaskets(t)); n != 1 {
		t.Errorf("open baskets = %d, want 1", n)
	}
}

func TestOpenBasket_UnknownCustomer(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.baskets(t).OpenBasket(context.Background(), "c-nadie")
	le := wantKind(t, err, live.KindNotFound)
	if le.Entity != "customer" || le.ID != "c-nadie" {
		t.Errorf("not found detail = %s %s", le.Entity, le.ID)
	}
}

func TestBasketStore_RejectsWhenSessionNotActive(t *testing.T) {
	for _, state := range []live.SessionState{live.SessionScheduled, live.SessionFinalized} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t)
			b := f.open(t, "c-x", "p-aretes")
			f.store.PutSession(live.Session{ID: liveID, State: state})

			bs := f.baskets(t)
			if _, _, err := bs.OpenBasket(context.Background(), "c-y"); live.KindOf(err) != live.KindInvalidState {
				t.Errorf("OpenBasket: %v", err)
			}
			if _, err := bs.AddItem(context.Background(), b.ID, "p-aretes"); live.KindOf(err) != live.KindInvalidState {
				t.Errorf("AddItem: %v", err)
			}
			if _, err := bs.RemoveItem(context.Background(), b.Items[0].ID); live.KindOf(err) != live.KindInvalidState {
				t.Errorf("RemoveItem: %v", err)
			}
		})
	}
}

func TestAddItem_SnapshotsPriceAndRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	b := f.open(t, "c-x", "p-aretes", "p-collar")

	if len(b.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(b.Items))
	}
	want := decimal.RequireFromString("470.50")
	if !b.Total.Equal(want) || !b.Subtotal.Equal(want) {
		t.Fatalf("totals = %s/%s, want %s", b.Subtotal, b.Total, want)
	}

	// a later catalog price change does not touch the line already in the basket
	p, _ := f.store.GetProduct(context.Background(), "p-aretes")
	p.UnitPrice = decimal.NewFromInt(999)
	f.store.PutProduct(p)

	b, err := f.baskets(t).AddItem(context.Background(), b.ID, "p-aretes")
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	it, _ := b.Item("p-aretes")
	if !it.UnitPrice.Equal(decimal.NewFromInt(150)) || it.Quantity != 2 {
		t.Fatalf("line = qty %d @ %s, want 2 @ 150", it.Quantity, it.UnitPrice)
	}
	if !it.LineTotal.Equal(decimal.NewFromInt(300)) {
		t.Errorf("line total = %s, want 300", it.LineTotal)
	}
	if !b.Total.Equal(live.SumLines(b.Items)) {
		t.Errorf("total %s does not match lines %s", b.Total, live.SumLines(b.Items))
	}

	stored, _ := f.store.GetBasket(context.Background(), b.ID)
	if !stored.Total.Equal(decimal.RequireFromString("620.50")) {
		t.Errorf("persisted total = %s, want 620.50", stored.Total)
	}
}

func TestAddItem_SameProductIncrementsSingleLine(t *testing.T) {
	f := newFixture(t)
	b := f.open(t, "c-x", "p-aretes", "p-aretes", "p-aretes")
	if len(b.Items) != 1 || b.Items[0].Quantity != 3 {
		t.Fatalf("items = %+v, want one line of 3", b.Items)
	}
	if b.Units() != 3 {
		t.Errorf("units = %d", b.Units())
	}
}

func TestAddItem_InsufficientStockWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.open(t, "c-x", "p-collar")
	y := f.open(t, "c-y")

	inserts := f.store.Calls("InsertItem")
	totals := f.store.Calls("UpdateBasketTotals")

	_, err := f.baskets(t).AddItem(context.Background(), y.ID, "p-collar")
	le := wantKind(t, err, live.KindInsufficientStock)
	if le.ProductID != "p-collar" || le.Requested != 1 || le.Available != 0 {
		t.Errorf("detail = %+v", le)
	}
	if f.store.Calls("InsertItem") != inserts || f.store.Calls("UpdateBasketTotals") != totals {
		t.Error("a rejected add must not write")
	}
	if got, _ := f.store.GetBasket(context.Background(), y.ID); len(got.Items) != 0 {
		t.Errorf("basket y has %d items", len(got.Items))
	}
}

func TestAddItem_OtherBasketsReservationBoundsEachBasket(t *testing.T) {
	f := newFixture(t) // p-aretes stock 3
	a := f.open(t, "c-x", "p-aretes")
	b := f.open(t, "c-y", "p-aretes")
	bs := f.baskets(t)
	ctx := context.Background()

	// A may hold up to 3 - 1 (B's reservation) = 2
	a, err := bs.AddItem(ctx, a.ID, "p-aretes")
	if err != nil {
		t.Fatalf("add to A: %v", err)
	}
	if it, _ := a.Item("p-aretes"); it.Quantity != 2 {
		t.Fatalf("A quantity = %d, want 2", it.Quantity)
	}

	// B may hold up to 3 - 2 = 1, which it already has
	_, err = bs.AddItem(ctx, b.ID, "p-aretes")
	le := wantKind(t, err, live.KindInsufficientStock)
	if le.Requested != 2 || le.Available != 1 {
		t.Errorf("requested/available = %d/%d, want 2/1", le.Requested, le.Available)
	}

	// and A cannot go to 3 while B holds 1
	_, err = bs.AddItem(ctx, a.ID, "p-aretes")
	wantKind(t, err, live.KindInsufficientStock)
}

func TestUpdateQuantity_BoundedByAvailability(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "c-x", "p-aretes")
	bs := f.baskets(t)
	ctx := context.Background()

	_, err := bs.UpdateQuantity(ctx, a.Items[0].ID, 4)
	le := wantKind(t, err, live.KindInsufficientStock)
	if le.Available != 3 {
		t.Errorf("available = %d, want 3", le.Available)
	}

	a, err = bs.UpdateQuantity(ctx, a.Items[0].ID, 3)
	if err != nil {
		t.Fatalf("UpdateQuantity(3): %v", err)
	}
	if !a.Total.Equal(decimal.NewFromInt(450)) {
		t.Errorf("total = %s, want 450", a.Total)
	}
}

func TestUpdateQuantity_ZeroRemovesLine(t *testing.T) {
	for _, qty := range []int{0, -2} {
		f := newFixture(t)
		a := f.open(t, "c-x", "p-aretes", "p-collar")
		aretes, _ := a.Item("p-aretes")

		got, err := f.baskets(t).UpdateQuantity(context.Background(), aretes.ID, qty)
		if err != nil {
			t.Fatalf("UpdateQuantity(%d): %v", qty, err)
		}
		if _, ok := got.Item("p-aretes"); ok {
			t.Fatalf("qty %d: line still present", qty)
		}
		if !got.Total.Equal(decimal.RequireFromString("320.50")) {
			t.Errorf("qty %d: total = %s, want 320.50", qty, got.Total)
		}
		if _, err := f.store.GetItem(context.Background(), aretes.ID); !errors.Is(err, live.ErrNotFound) {
			t.Errorf("qty %d: item not deleted: %v", qty, err)
		}
	}
}

func TestRemoveItem_FreesStockForOthers(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "c-x", "p-collar")
	y := f.open(t, "c-y")
	bs := f.baskets(t)
	ctx := context.Background()

	a, err := bs.RemoveItem(ctx, a.Items[0].ID)
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(a.Items) != 0 || !a.Total.IsZero() {
		t.Fatalf("basket after remove = %d items, total %s", len(a.Items), a.Total)
	}
	if _, err := bs.AddItem(ctx, y.ID, "p-collar"); err != nil {
		t.Fatalf("collar should be available again: %v", err)
	}

	_, err = bs.RemoveItem(ctx, "no-such-item")
	wantKind(t, err, live.KindNotFound)
}

func TestAddItem_ProductChecks(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "c-x")
	bs := f.baskets(t)
	ctx := context.Background()

	_, err := bs.AddItem(ctx, a.ID, "p-retirado")
	wantKind(t, err, live.KindInvalidState)

	_, err = bs.AddItem(ctx, a.ID, "p-fantasma")
	le := wantKind(t, err, live.KindNotFound)
	if le.Entity != "product" {
		t.Errorf("entity = %s", le.Entity)
	}

	_, err = bs.AddItem(ctx, "b-fantasma", "p-aretes")
	wantKind(t, err, live.KindNotFound)
}

func TestAddItem_BasketFromAnotherLive(t *testing.T) {
	f := newFixture(t)
	f.store.PutSession(live.Session{ID: "live-2", State: live.SessionActive})
	other, _, err := live.NewBasketStore(f.store, "live-2").OpenBasket(context.Background(), "c-x")
	if err != nil {
		t.Fatalf("open in live-2: %v", err)
	}

	_, err = f.baskets(t).AddItem(context.Background(), other.ID, "p-aretes")
	wantKind(t, err, live.KindNotFound)
}

func TestAddItem_FinalizedBasket(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "c-x")
	if err := f.store.UpdateBasketState(context.Background(), a.ID, live.BasketFinalized); err != nil {
		t.Fatal(err)
	}
	_, err := f.baskets(t).AddItem(context.Background(), a.ID, "p-aretes")
	wantKind(t, err, live.KindInvalidState)
}

func TestBasketStore_BackendFailure(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "c-x")

	f.store.FailNext("ListOpenBaskets", errDB)
	_, err := f.baskets(t).AddItem(context.Background(), a.ID, "p-aretes")
	wantKind(t, err, live.KindBackend)
	if !errors.Is(err, errDB) {
		t.Errorf("cause lost: %v", err)
	}

	f.store.FailNext("GetSession", errDB)
	_, _, err = f.baskets(t).OpenBasket(context.Background(), "c-y")
	wantKind(t, err, live.KindBackend)
}

func TestBasketStore_EmitsBasketUpdated(t *testing.T) {
	f := newFixture(t)
	f.open(t, "c-x", "p-aretes", "p-collar")

	msgs := f.pub.on(live.TopicBasketUpdated)
	if len(msgs) != 2 {
		t.Fatalf("basket events = %d, want 2", len(msgs))
	}
	if msgs[0].key != liveID {
		t.Errorf("partition key = %q", msgs[0].key)
	}
}

// Random operator activity never reserves more of a product than its stock.
func TestBasketStore_ReservationsNeverExceedStock(t *testing.T) {
	f := newFixture(t)
	bs := f.baskets(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	customers := []string{"c-x", "c-y", "c-z"}
	products := []string{"p-aretes", "p-collar"}
	stock := map[string]int{"p-aretes": 3, "p-collar": 1}

	for i := 0; i < 300; i++ {
		b, _, err := bs.OpenBasket(ctx, customers[rng.Intn(len(customers))])
		if err != nil {
			t.Fatalf("step %d open: %v", i, err)
		}
		switch op := rng.Intn(3); {
		case op == 0 || len(b.Items) == 0:
			_, err = bs.AddItem(ctx, b.ID, products[rng.Intn(len(products))])
		case op == 1:
			_, err = bs.UpdateQuantity(ctx, b.Items[rng.Intn(len(b.Items))].ID, rng.Intn(5))
		default:
			_, err = bs.RemoveItem(ctx, b.Items[rng.Intn(len(b.Items))].ID)
		}
		if err != nil && live.KindOf(err) != live.KindInsufficientStock {
			t.Fatalf("step %d: unexpected error %v", i, err)
		}

		open := f.openBaskets(t)
		for pid, reserved := range live.ReservedQuantities(open) {
			if reserved > stock[pid] {
				t.Fatalf("step %d: %s reserved %d > stock %d", i, pid, reserved, stock[pid])
			}
		}
		for _, ob := range open {
			if !ob.Total.Equal(live.SumLines(ob.Items)) {
				t.Fatalf("step %d: basket %s total %s != lines %s", i, ob.ID, ob.Total, live.SumLines(ob.Items))
			}
		}
	}
}
