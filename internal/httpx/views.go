package httpx

import (
	"context"
	"sync"
	"time"

	"github.com/livecanasta/live-baskets/internal/live"
	"go.uber.org/zap"
)

// ViewCache shares view snapshots across API replicas.
type ViewCache interface {
	Get(ctx context.Context, liveID string) (live.View, bool, error)
	Put(ctx context.Context, liveID string, v live.View) error
}

// Views owns one poller per live session that someone is watching. Pollers
// nobody has read within the idle timeout, and pollers whose session closed,
// are stopped by Run.
type Views struct {
	repo     live.Store
	interval time.Duration
	idle     time.Duration
	opts     []live.Option
	log      *zap.Logger
	now      func() time.Time

	base    context.Context
	mu      sync.Mutex
	entries map[string]*viewEntry
}

type viewEntry struct {
	poller   *live.Poller
	lastRead time.Time
}

func NewViews(ctx context.Context, repo live.Store, interval, idle time.Duration, log *zap.Logger, opts ...live.Option) *Views {
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Views{
		repo:     repo,
		interval: interval,
		idle:     idle,
		opts:     append([]live.Option{live.WithLogger(log)}, opts...),
		log:      log,
		now:      time.Now,
		base:     ctx,
		entries:  map[string]*viewEntry{},
	}
}

// Poller returns the running poller for liveID, starting one if needed.
func (v *Views) Poller(liveID string) *live.Poller {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[liveID]
	if ok && isClosed(e.poller.Done()) {
		delete(v.entries, liveID)
		ok = false
	}
	if !ok {
		p := live.NewPoller(v.repo, liveID, v.interval, v.opts...)
		p.Start(v.base)
		e = &viewEntry{poller: p}
		v.entries[liveID] = e
		v.log.Info("view poller started", zap.String("live_id", liveID))
	}
	e.lastRead = v.now()
	return e.poller
}

// Run sweeps idle and closed pollers until ctx is done, then stops them all.
func (v *Views) Run(ctx context.Context) {
	t := time.NewTicker(v.idle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			v.Close()
			return
		case <-t.C:
			v.sweep()
		}
	}
}

func (v *Views) sweep() {
	now := v.now()
	var stale []*live.Poller
	v.mu.Lock()
	for id, e := range v.entries {
		if isClosed(e.poller.Closed()) || now.Sub(e.lastRead) > v.idle {
			stale = append(stale, e.poller)
			delete(v.entries, id)
			v.log.Info("view poller stopped", zap.String("live_id", id))
		}
	}
	v.mu.Unlock()
	for _, p := range stale {
		p.Stop()
	}
}

// Close stops every poller.
func (v *Views) Close() {
	v.mu.Lock()
	all := v.entries
	v.entries = map[string]*viewEntry{}
	v.mu.Unlock()
	for _, e := range all {
		e.poller.Stop()
	}
}

func (v *Views) running() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
