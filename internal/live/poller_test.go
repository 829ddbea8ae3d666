package live_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livecanasta/live-baskets/internal/live"
)

func TestPollerRefresh_BuildsView(t *testing.T) {
	f := newFixture(t)
	f.open(t, "c-x", "p-aretes", "p-aretes")
	f.open(t, "c-y", "p-collar")

	p := live.NewPoller(f.store, liveID, time.Hour, f.opts()...)
	if _, ok := p.Snapshot(); ok {
		t.Fatal("snapshot before first refresh")
	}
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	v, ok := p.Snapshot()
	if !ok || !v.HasSession || v.Session.ID != liveID {
		t.Fatalf("view session = %+v (ok=%v)", v.Session, ok)
	}
	if len(v.Baskets) != 2 || v.Baskets[0].Customer.Name != "Ximena Torres" {
		t.Fatalf("baskets = %+v", v.Baskets)
	}
	if l := v.Baskets[0].Lines; len(l) != 1 || l[0].Product.Name != "Aretes de plata" || l[0].Quantity != 2 {
		t.Errorf("lines = %+v", l)
	}

	avail := map[string]int{}
	for _, pa := range v.Products {
		avail[pa.ID] = pa.Available
	}
	if len(v.Products) != 2 || avail["p-aretes"] != 1 || avail["p-collar"] != 0 {
		t.Errorf("availability = %v (inactive products must be excluded)", avail)
	}
	if len(v.Suggestions) != 1 || v.Suggestions[0].ID != "p-aretes" {
		t.Errorf("suggestions = %+v", v.Suggestions)
	}
	if v.Stats.OpenBaskets != 2 || v.Stats.UnitsSold != 3 {
		t.Errorf("stats = %+v", v.Stats)
	}
	if len(v.Customers) != 3 || v.RefreshedAt.IsZero() {
		t.Errorf("customers = %d refreshed = %v", len(v.Customers), v.RefreshedAt)
	}
}

func TestPollerRefresh_FailedFetchLeavesPieceAbsent(t *testing.T) {
	f := newFixture(t)
	f.open(t, "c-x", "p-aretes")
	p := live.NewPoller(f.store, liveID, time.Hour)

	f.store.FailNext("ListProducts", errDB)
	err := p.Refresh(context.Background())
	if !errors.Is(err, errDB) {
		t.Fatalf("Refresh error = %v", err)
	}
	v, ok := p.Snapshot()
	if !ok {
		t.Fatal("partial view must still be published")
	}
	if v.Products != nil || v.Suggestions != nil || v.HasProducts {
		t.Errorf("products should be absent: %+v", v.Products)
	}
	if len(v.Baskets) != 1 || !v.HasSession || !v.HasBaskets || v.Stats == nil {
		t.Errorf("other pieces should be present: %+v", v)
	}
	if v.Baskets[0].Lines[0].Product.ID != "p-aretes" {
		t.Error("line should still carry its product id")
	}

	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("next refresh: %v", err)
	}
	if v, _ := p.Snapshot(); len(v.Products) == 0 {
		t.Error("products should return on the next tick")
	}
}

func TestPollerRefresh_BasketFetchFailureHidesDerivedData(t *testing.T) {
	f := newFixture(t)
	f.open(t, "c-x", "p-collar")
	p := live.NewPoller(f.store, liveID, time.Hour)

	f.store.FailNext("ListOpenBaskets", errDB)
	if err := p.Refresh(context.Background()); !errors.Is(err, errDB) {
		t.Fatalf("Refresh error = %v", err)
	}
	v, _ := p.Snapshot()
	if v.HasBaskets || v.Baskets != nil {
		t.Errorf("baskets should be absent: %+v", v.Baskets)
	}
	// without reservations the collar would look available and get suggested
	if v.HasProducts || v.Products != nil || v.Suggestions != nil {
		t.Errorf("availability should be absent: products %+v suggestions %+v", v.Products, v.Suggestions)
	}
	if v.Stats != nil {
		t.Errorf("stats should be absent: %+v", *v.Stats)
	}
	if !v.HasSession || !v.HasCustomers {
		t.Error("session and customers should still be present")
	}

	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("next refresh: %v", err)
	}
	v, _ = p.Snapshot()
	if !v.HasBaskets || !v.HasProducts || v.Stats == nil || v.Stats.OpenBaskets != 1 {
		t.Fatalf("view after recovery = %+v", v)
	}
	for _, pa := range v.Products {
		if pa.ID == "p-collar" && (pa.Available != 0 || pa.Reserved != 1) {
			t.Errorf("collar = available %d reserved %d", pa.Available, pa.Reserved)
		}
	}
}

func TestPoller_StopsWhenSessionFinalized(t *testing.T) {
	f := newFixture(t)
	f.store.PutSession(live.Session{ID: liveID, State: live.SessionFinalized})
	p := live.NewPoller(f.store, liveID, 10*time.Millisecond)

	p.Start(context.Background())
	select {
	case <-p.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not close on a finalized session")
	}
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling goroutine still running")
	}
	p.Stop()
}

func TestPoller_StartStop(t *testing.T) {
	f := newFixture(t)
	p := live.NewPoller(f.store, liveID, 5*time.Millisecond)
	p.Start(context.Background())
	p.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for f.store.Calls("GetSession") < 3 {
		if time.Now().After(deadline) {
			t.Fatal("poller is not ticking")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()

	calls := f.store.Calls("GetSession")
	time.Sleep(30 * time.Millisecond)
	if f.store.Calls("GetSession") != calls {
		t.Error("refreshes continued after Stop")
	}
	select {
	case <-p.Closed():
		t.Error("active session must not close the poller")
	default:
	}
}

func TestPoller_StopBeforeStart(t *testing.T) {
	p := live.NewPoller(newFixture(t).store, liveID, 0)
	p.Stop()
	p.Start(context.Background())
	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}
