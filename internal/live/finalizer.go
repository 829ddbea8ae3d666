package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultEmployee = "Live"

type FinalizerConfig struct {
	Employee string        // recorded as the employee on generated orders
	Locker   Locker        // optional, cross-replica guard
	LockTTL  time.Duration // lock lease; must outlive one finalization run
}

// Finalizer converts every open basket of a live session into an order,
// decrements stock for what was sold and closes the session.
//
// Baskets are processed one at a time and items in order, each step
// checkpointed in the ProgressStore. A failure stops the run and leaves
// earlier baskets converted; calling Finalize again resumes from the
// checkpoint of the interrupted basket and then continues with the
// baskets that are still open.
type Finalizer struct {
	repo     Store
	progress ProgressStore
	locker   Locker
	lockTTL  time.Duration
	employee string

	log    *zap.Logger
	events emitter
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
	running  sync.WaitGroup
}

func NewFinalizer(repo Store, progress ProgressStore, cfg FinalizerConfig, opts ...Option) *Finalizer {
	d := buildDeps(opts)
	if cfg.Employee == "" {
		cfg.Employee = DefaultEmployee
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Finalizer{
		repo:     repo,
		progress: progress,
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		employee: cfg.Employee,
		log:      d.log,
		events:   d.emitter(),
		now:      d.now,
		inflight: map[string]bool{},
	}
}

type BasketSummary struct {
	BasketID     string          `json:"basket_id"`
	CustomerID   string          `json:"cliente_id"`
	CustomerName string          `json:"cliente_nombre"`
	Units        int             `json:"productos"`
	Total        decimal.Decimal `json:"total"`
}

// Summary is what the operator confirms before finalizing.
type Summary struct {
	LiveID       string          `json:"live_id"`
	Title        string          `json:"titulo"`
	State        SessionState    `json:"estado"`
	BasketCount  int             `json:"canastas"`
	TotalRevenue decimal.Decimal `json:"facturacion_total"`
	Baskets      []BasketSummary `json:"detalle"`
}

type Result struct {
	LiveID           string          `json:"live_id"`
	Orders           []Order         `json:"pedidos"`
	Revenue          decimal.Decimal `json:"facturacion_total"`
	Resumed          int             `json:"reanudadas"`
	AlreadyFinalized bool            `json:"ya_finalizado"`
}

func (f *Finalizer) Preview(ctx context.Context, liveID string) (Summary, error) {
	const op = "previewFinalize"
	sess, err := f.repo.GetSession(ctx, liveID)
	if err != nil {
		return Summary{}, fromRepo(op, "live", liveID, err)
	}
	sum := Summary{LiveID: liveID, Title: sess.DisplayTitle(), State: sess.State, TotalRevenue: decimal.Zero}
	if sess.State == SessionFinalized {
		return sum, nil
	}
	baskets, err := f.repo.ListOpenBaskets(ctx, liveID)
	if err != nil {
		return Summary{}, backend(op, err)
	}
	names := f.customerNames(ctx)
	for _, b := range orderBaskets(baskets) {
		sum.Baskets = append(sum.Baskets, BasketSummary{
			BasketID:     b.ID,
			CustomerID:   b.CustomerID,
			CustomerName: names[b.CustomerID].Name,
			Units:        b.Units(),
			Total:        b.Total,
		})
		sum.TotalRevenue = sum.TotalRevenue.Add(b.Total)
	}
	sum.BasketCount = len(sum.Baskets)
	return sum, nil
}

// Finalize runs to completion even if ctx is cancelled: stock decrements that
// already happened cannot be undone, so stopping halfway buys nothing.
func (f *Finalizer) Finalize(ctx context.Context, liveID string) (Result, error) {
	const op = "finalize"
	if !f.enter(liveID) {
		return Result{}, &Error{Kind: KindInProgress, Op: op, Msg: "finalization already running for live " + liveID}
	}
	defer f.leave(liveID)
	f.running.Add(1)
	defer f.running.Done()
	ctx = context.WithoutCancel(ctx)

	if f.locker != nil {
		key := LockKey(liveID)
		token, ok, err := f.locker.Acquire(ctx, key, f.lockTTL)
		if err != nil {
			return Result{}, backend(op, fmt.Errorf("acquire lock: %w", err))
		}
		if !ok {
			return Result{}, &Error{Kind: KindInProgress, Op: op, Msg: "finalization locked by another operator"}
		}
		defer func() {
			if err := f.locker.Release(ctx, key, token); err != nil {
				f.log.Warn("release finalize lock", zap.String("live_id", liveID), zap.Error(err))
			}
		}()
	}

	log := f.log.With(zap.String("live_id", liveID))
	res := Result{LiveID: liveID, Revenue: decimal.Zero}

	sess, err := f.repo.GetSession(ctx, liveID)
	if err != nil {
		return res, fromRepo(op, "live", liveID, err)
	}
	if sess.State == SessionFinalized {
		orders, err := f.repo.ListOrdersByLive(ctx, liveID)
		if err != nil {
			return res, backend(op, err)
		}
		res.AlreadyFinalized, res.Orders = true, orders
		for _, o := range orders {
			res.Revenue = res.Revenue.Add(o.Total)
		}
		return res, nil
	}
	if !CanTransitionSession(sess.State, SessionFinalized) {
		return res, invalidState(op, "live %s is %s", liveID, sess.State)
	}

	baskets, err := f.repo.ListOpenBaskets(ctx, liveID)
	if err != nil {
		return res, backend(op, err)
	}
	checkpoints, err := f.progress.Load(ctx, liveID)
	if err != nil {
		return res, backend(op, fmt.Errorf("load progress: %w", err))
	}
	customers := f.customerNames(ctx)
	products := f.productNames(ctx)

	log.Info("finalizing live", zap.Int("open_baskets", len(baskets)), zap.Int("checkpoints", len(checkpoints)))

	for _, b := range orderBaskets(baskets) {
		cp, resumed := checkpoints[b.ID]
		var serr *stepError
		switch {
		case !resumed:
			cp = f.snapshot(sess, b)
		case !cp.OrderCreated:
			// nothing was written for this basket yet; take its current lines
			cp = f.snapshot(sess, b).withOrder(cp.Order)
		case !sameLines(cp.Items, b.Items):
			serr = &stepError{StepVerifyBasket, fmt.Errorf("basket %s changed after order %s was created", b.ID, cp.Order.ID)}
		}
		if serr == nil {
			serr = f.convert(ctx, liveID, b.State, &cp)
		}
		if serr != nil {
			log.Error("finalization stopped",
				zap.String("basket_id", b.ID),
				zap.String("step", string(serr.step)),
				zap.Int("converted", len(res.Orders)),
				zap.Error(serr.err))
			return res, &Error{
				Kind:      KindPartialFinalization,
				Op:        op,
				BasketID:  b.ID,
				Step:      serr.step,
				Converted: len(res.Orders),
				Err:       serr.err,
			}
		}
		if resumed {
			res.Resumed++
		}
		res.Orders = append(res.Orders, cp.Order)
		res.Revenue = res.Revenue.Add(cp.Order.Total)
		f.emitOrder(sess, b, cp, customers[b.CustomerID], products)
		log.Info("basket converted",
			zap.String("basket_id", b.ID),
			zap.String("order_id", cp.Order.ID),
			zap.String("total", cp.Order.Total.StringFixed(2)),
			zap.Bool("resumed", resumed))
	}

	if err := f.repo.UpdateSessionState(ctx, liveID, SessionFinalized); err != nil {
		return res, &Error{Kind: KindPartialFinalization, Op: op, Step: StepMarkLive, Converted: len(res.Orders), Err: err}
	}
	if err := f.progress.Clear(ctx, liveID); err != nil {
		log.Warn("clear finalize progress", zap.Error(err))
	}

	f.events.emit(TopicLiveFinalized, EventLiveFinalized, liveID, LiveFinalizedPayload{
		LiveID:  liveID,
		Orders:  len(res.Orders),
		Revenue: res.Revenue,
	})
	log.Info("live finalized", zap.Int("orders", len(res.Orders)), zap.String("revenue", res.Revenue.StringFixed(2)))
	return res, nil
}

// snapshot freezes the order a basket converts into. Ids are assigned here
// so that inserts replayed after a failure hit the same rows.
func (f *Finalizer) snapshot(sess Session, b Basket) BasketProgress {
	sub := SumLines(b.Items)
	order := Order{
		ID:         uuid.NewString(),
		CustomerID: b.CustomerID,
		LiveID:     sess.ID,
		State:      OrderPending,
		Subtotal:   sub,
		Tax:        decimal.Zero,
		Total:      sub,
		Employee:   f.employee,
		Notes:      "Pedido generado desde el live: " + sess.DisplayTitle(),
		CreatedAt:  f.now(),
	}
	items := make([]OrderItem, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			UnitCost:  it.UnitCost,
			LineTotal: it.LineTotal,
		})
	}
	return BasketProgress{BasketID: b.ID, Order: order, Items: items}
}

// withOrder keeps the identity of an order already recorded in a checkpoint,
// so a retry that replays CreateOrder hits the same row.
func (p BasketProgress) withOrder(o Order) BasketProgress {
	p.Order.ID, p.Order.CreatedAt = o.ID, o.CreatedAt
	for i := range p.Items {
		p.Items[i].OrderID = o.ID
	}
	return p
}

// sameLines reports whether the order lines cover exactly the basket items.
func sameLines(lines []OrderItem, items []BasketItem) bool {
	if len(lines) != len(items) {
		return false
	}
	want := make(map[string]int, len(items))
	for _, it := range items {
		want[it.ProductID] += it.Quantity
	}
	for _, l := range lines {
		want[l.ProductID] -= l.Quantity
	}
	for _, n := range want {
		if n != 0 {
			return false
		}
	}
	return true
}

type stepError struct {
	step Step
	err  error
}

// convert drives one basket from its checkpoint to finalized. Item by item,
// the order line is written before the matching stock decrement.
func (f *Finalizer) convert(ctx context.Context, liveID string, state BasketState, cp *BasketProgress) *stepError {
	if !CanTransitionBasket(state, BasketFinalized) {
		return &stepError{StepVerifyBasket, fmt.Errorf("basket %s is %s", cp.BasketID, state)}
	}
	save := func() *stepError {
		cp.UpdatedAt = f.now()
		if err := f.progress.Save(ctx, liveID, *cp); err != nil {
			return &stepError{StepCheckpoint, err}
		}
		return nil
	}

	if !cp.OrderCreated {
		// checkpoint first so a retry reuses the order id
		if err := save(); err != nil {
			return err
		}
		if _, err := f.repo.CreateOrder(ctx, cp.Order); err != nil {
			return &stepError{StepCreateOrder, err}
		}
		cp.OrderCreated = true
		if err := save(); err != nil {
			return err
		}
	}

	for i, it := range cp.Items {
		if i >= cp.ItemsRecorded {
			if err := f.repo.InsertOrderItem(ctx, it); err != nil {
				return &stepError{StepInsertItem, fmt.Errorf("product %s: %w", it.ProductID, err)}
			}
			cp.ItemsRecorded = i + 1
			if err := save(); err != nil {
				return err
			}
		}
		if i >= cp.StockApplied {
			if err := f.repo.AdjustStock(ctx, it.ProductID, -it.Quantity); err != nil {
				return &stepError{StepDecrementStock, fmt.Errorf("product %s: %w", it.ProductID, err)}
			}
			cp.StockApplied = i + 1
			if err := save(); err != nil {
				return err
			}
		}
	}

	if err := f.repo.UpdateBasketState(ctx, cp.BasketID, BasketFinalized); err != nil {
		return &stepError{StepMarkBasket, err}
	}
	cp.Finalized = true
	return save()
}

func (f *Finalizer) emitOrder(sess Session, b Basket, cp BasketProgress, c Customer, products map[string]Product) {
	lines := make([]OrderLine, 0, len(cp.Items))
	for _, it := range cp.Items {
		lines = append(lines, OrderLine{
			ProductID:   it.ProductID,
			ProductName: products[it.ProductID].Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.LineTotal,
		})
	}
	f.events.emit(TopicOrderCreated, EventOrderCreated, sess.ID, OrderCreatedPayload{
		OrderID:       cp.Order.ID,
		LiveID:        sess.ID,
		LiveTitle:     sess.DisplayTitle(),
		BasketID:      b.ID,
		CustomerID:    b.CustomerID,
		CustomerName:  c.Name,
		CustomerPhone: c.Phone,
		Items:         lines,
		Total:         cp.Order.Total,
	})
}

// customerNames and productNames only feed summaries and events; a failed
// lookup degrades to empty names.
func (f *Finalizer) customerNames(ctx context.Context) map[string]Customer {
	out := map[string]Customer{}
	cs, err := f.repo.ListCustomers(ctx)
	if err != nil {
		f.log.Warn("list customers", zap.Error(err))
		return out
	}
	for _, c := range cs {
		out[c.ID] = c
	}
	return out
}

func (f *Finalizer) productNames(ctx context.Context) map[string]Product {
	out := map[string]Product{}
	ps, err := f.repo.ListProducts(ctx, false)
	if err != nil {
		f.log.Warn("list products", zap.Error(err))
		return out
	}
	for _, p := range ps {
		out[p.ID] = p
	}
	return out
}

func (f *Finalizer) enter(liveID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight[liveID] {
		return false
	}
	f.inflight[liveID] = true
	return true
}

func (f *Finalizer) leave(liveID string) {
	f.mu.Lock()
	delete(f.inflight, liveID)
	f.mu.Unlock()
}

// Wait blocks until every running Finalize has returned or ctx is done.
func (f *Finalizer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether this process is finalizing liveID right now.
func (f *Finalizer) InFlight(liveID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[liveID]
}

// LockKey is the lock name guarding finalization of one live session.
func LockKey(liveID string) string { return "lock:live:finalize:" + liveID }

// orderBaskets sorts by creation time so runs and retries walk the same order.
func orderBaskets(bs []Basket) []Basket {
	out := append([]Basket(nil), bs...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
