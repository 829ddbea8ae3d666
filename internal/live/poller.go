package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultPollInterval = 5 * time.Second

type BasketLine struct {
	BasketItem
	Product Product `json:"product"`
}

type BasketView struct {
	Basket
	Customer Customer     `json:"cliente"`
	Lines    []BasketLine `json:"lineas"`
}

// View is everything the live-session screen renders for one tick.
// Missing pieces (a fetch that failed this tick) are nil and the matching
// Has* flag is false. Availability, suggestions and stats depend on the
// open baskets, so they are absent whenever the basket fetch failed.
type View struct {
	Session      Session               `json:"live"`
	HasSession   bool                  `json:"has_live"`
	Baskets      []BasketView          `json:"canastas"`
	HasBaskets   bool                  `json:"has_canastas"`
	Products     []ProductAvailability `json:"productos"`
	HasProducts  bool                  `json:"has_productos"`
	Customers    []Customer            `json:"clientes"`
	HasCustomers bool                  `json:"has_clientes"`
	Stats        *Stats                `json:"stats,omitempty"`
	Suggestions  []Product             `json:"sugerencias"`
	RefreshedAt  time.Time             `json:"refreshed_at"`
}

// Poller keeps a View of one live session fresh. Refreshes never overlap:
// the loop waits for a refresh to finish before the next tick is taken.
// When the session leaves the active state, Closed is closed and polling stops.
type Poller struct {
	repo     Store
	liveID   string
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	view   View
	loaded bool

	lc        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	readyOnce sync.Once
	ready     chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func NewPoller(repo Store, liveID string, interval time.Duration, opts ...Option) *Poller {
	d := buildDeps(opts)
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		repo:     repo,
		liveID:   liveID,
		interval: interval,
		log:      d.log.With(zap.String("live_id", liveID)),
		now:      d.now,
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start refreshes immediately and then on every interval until Stop, ctx
// cancellation or the session closing.
func (p *Poller) Start(ctx context.Context) {
	p.lc.Lock()
	defer p.lc.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop ends polling and waits for an in-flight refresh to return.
func (p *Poller) Stop() {
	p.lc.Lock()
	if p.stopped {
		p.lc.Unlock()
		return
	}
	p.stopped = true
	started, cancel := p.started, p.cancel
	p.lc.Unlock()

	if !started {
		close(p.done)
		return
	}
	cancel()
	<-p.done
}

// Ready is closed once the first view has been published.
func (p *Poller) Ready() <-chan struct{} { return p.ready }

// Closed is closed once the session is seen in a non-active state.
func (p *Poller) Closed() <-chan struct{} { return p.closed }

// Done is closed when the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Snapshot returns the latest view; ok is false before the first refresh.
func (p *Poller) Snapshot() (View, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view, p.loaded
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if err := p.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn("live refresh", zap.Error(err))
		}
		if p.isClosed() {
			p.log.Info("live no longer active, polling stopped")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Refresh fetches session, open baskets, active products and customers
// concurrently and publishes a new View. A failed fetch leaves that piece
// absent for this tick; the next tick tries again.
func (p *Poller) Refresh(ctx context.Context) error {
	var (
		in   fetch
		errs = make([]error, 4)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		in.sess, errs[0] = p.repo.GetSession(gctx, p.liveID)
		in.hasSess = errs[0] == nil
		return nil
	})
	g.Go(func() error {
		in.baskets, errs[1] = p.repo.ListOpenBaskets(gctx, p.liveID)
		in.hasBaskets = errs[1] == nil
		return nil
	})
	g.Go(func() error {
		in.products, errs[2] = p.repo.ListProducts(gctx, true)
		in.hasProducts = errs[2] == nil
		return nil
	})
	g.Go(func() error {
		in.customers, errs[3] = p.repo.ListCustomers(gctx)
		in.hasCustomers = errs[3] == nil
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	v := buildView(in)
	v.RefreshedAt = p.now()
	p.mu.Lock()
	p.view, p.loaded = v, true
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.ready) })

	if in.hasSess && in.sess.State != SessionActive {
		p.closeOnce.Do(func() { close(p.closed) })
	}
	return errors.Join(errs...)
}

func (p *Poller) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// fetch holds the results of one refresh; each has* flag reports that the
// matching read succeeded.
type fetch struct {
	sess         Session
	baskets      []Basket
	products     []Product
	customers    []Customer
	hasSess      bool
	hasBaskets   bool
	hasProducts  bool
	hasCustomers bool
}

func buildView(in fetch) View {
	v := View{}
	if in.hasSess {
		v.Session, v.HasSession = in.sess, true
	}
	if in.hasCustomers {
		v.Customers, v.HasCustomers = in.customers, true
		if v.Customers == nil {
			v.Customers = []Customer{}
		}
	}

	prodByID := make(map[string]Product, len(in.products))
	for _, pr := range in.products {
		prodByID[pr.ID] = pr
	}
	custByID := make(map[string]Customer, len(in.customers))
	for _, c := range in.customers {
		custByID[c.ID] = c
	}

	if in.hasBaskets {
		ordered := orderBaskets(in.baskets)
		v.Baskets, v.HasBaskets = make([]BasketView, 0, len(ordered)), true
		for _, b := range ordered {
			bv := BasketView{Basket: b, Customer: custByID[b.CustomerID]}
			if bv.Customer.ID == "" {
				bv.Customer.ID = b.CustomerID
			}
			for _, it := range b.Items {
				pr, ok := prodByID[it.ProductID]
				if !ok {
					pr = Product{ID: it.ProductID}
				}
				bv.Lines = append(bv.Lines, BasketLine{BasketItem: it, Product: pr})
			}
			v.Baskets = append(v.Baskets, bv)
		}
		st := ComputeStats(in.baskets)
		v.Stats = &st
	}

	if in.hasBaskets && in.hasProducts {
		v.Products = AnnotateAvailability(in.products, in.baskets)
		v.Suggestions = RankSuggestions(in.baskets, in.products)
		v.HasProducts = true
	}
	return v
}
