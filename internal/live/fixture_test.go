package live_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/livecanasta/live-baskets/internal/memstore"
	"github.com/shopspring/decimal"
)

const liveID = "live-1"

var errDB = errors.New("connection reset by peer")

// clock advances one second per reading so creation order is deterministic.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func newClock() *clock {
	return &clock{cur: time.Date(2025, 3, 14, 19, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type fixture struct {
	store *memstore.Store
	clock *clock
	pub   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	st.PutSession(live.Session{ID: liveID, Title: "Joyería de primavera", State: live.SessionActive, ScheduledAt: time.Date(2025, 3, 14, 19, 0, 0, 0, time.UTC)})
	st.PutCustomer(live.Customer{ID: "c-x", Name: "Ximena Torres", Phone: "+5215511110000"})
	st.PutCustomer(live.Customer{ID: "c-y", Name: "Yolanda Pérez", Phone: "+5215522220000"})
	st.PutCustomer(live.Customer{ID: "c-z", Name: "Zoe Martínez", Phone: "+5215533330000"})
	st.PutProduct(live.Product{ID: "p-aretes", Name: "Aretes de plata", Stock: 3, Active: true,
		UnitPrice: decimal.NewFromInt(150), UnitCost: decimal.NewFromInt(60)})
	st.PutProduct(live.Product{ID: "p-collar", Name: "Collar de perlas", Stock: 1, Active: true,
		UnitPrice: decimal.RequireFromString("320.50"), UnitCost: decimal.NewFromInt(140)})
	st.PutProduct(live.Product{ID: "p-retirado", Name: "Pulsera descontinuada", Stock: 10, Active: false,
		UnitPrice: decimal.NewFromInt(99)})
	return &fixture{store: st, clock: newClock(), pub: &recorder{}}
}

func (f *fixture) opts() []live.Option {
	return []live.Option{live.WithClock(f.clock.Now), live.WithPublisher(f.pub, "live-api-test")}
}

func (f *fixture) baskets(t *testing.T) *live.BasketStore {
	t.Helper()
	return live.NewBasketStore(f.store, liveID, f.opts()...)
}

// open returns the customer's basket after adding the given products, one unit per entry.
func (f *fixture) open(t *testing.T, customerID string, productIDs ...string) live.Basket {
	t.Helper()
	ctx := context.Background()
	bs := f.baskets(t)
	b, _, err := bs.OpenBasket(ctx, customerID)
	if err != nil {
		t.Fatalf("OpenBasket(%s): %v", customerID, err)
	}
	for _, pid := range productIDs {
		if b, err = bs.AddItem(ctx, b.ID, pid); err != nil {
			t.Fatalf("AddItem(%s, %s): %v", customerID, pid, err)
		}
	}
	return b
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("GetProduct(%s): %v", productID, err)
	}
	return p.Stock
}

func (f *fixture) openBaskets(t *testing.T) []live.Basket {
	t.Helper()
	bs, err := f.store.ListOpenBaskets(context.Background(), liveID)
	if err != nil {
		t.Fatalf("ListOpenBaskets: %v", err)
	}
	return bs
}

type published struct {
	topic string
	key   string
	value []byte
}

type recorder struct {
	mu  sync.Mutex
	msg []published
}

func (r *recorder) Publish(topic string, key, value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msg = append(r.msg, published{topic: topic, key: string(key), value: value})
}

func (r *recorder) topics() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, m := range r.msg {
		out[m.topic]++
	}
	return out
}

func (r *recorder) on(topic string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, m := range r.msg {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func wantKind(t *testing.T, err error, k live.Kind) *live.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", k)
	}
	var le *live.Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *live.Error, got %T: %v", err, err)
	}
	if le.Kind != k {
		t.Fatalf("kind = %v, want %v (%v)", le.Kind, k, err)
	}
	return le
}
