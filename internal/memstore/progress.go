package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livecanasta/live-baskets/internal/live"
)

// Progress is an in-memory live.ProgressStore.
type Progress struct {
	mu   sync.Mutex
	data map[string]map[string]live.BasketProgress

	// SaveErr, when set, is returned by the next Save and then cleared.
	SaveErr error
}

var _ live.ProgressStore = (*Progress)(nil)

func NewProgress() *Progress {
	return &Progress{data: map[string]map[string]live.BasketProgress{}}
}

func (p *Progress) Load(ctx context.Context, liveID string) (map[string]live.BasketProgress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]live.BasketProgress, len(p.data[liveID]))
	for k, v := range p.data[liveID] {
		out[k] = v
	}
	return out, nil
}

func (p *Progress) Save(ctx context.Context, liveID string, bp live.BasketProgress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.SaveErr; err != nil {
		p.SaveErr = nil
		return err
	}
	if p.data[liveID] == nil {
		p.data[liveID] = map[string]live.BasketProgress{}
	}
	p.data[liveID][bp.BasketID] = bp
	return nil
}

func (p *Progress) Clear(ctx context.Context, liveID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, liveID)
	return nil
}

func (p *Progress) Pending(ctx context.Context, liveID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data[liveID]) > 0, nil
}

// Locker is an in-memory live.Locker with lease expiry.
type Locker struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

var _ live.Locker = (*Locker)(nil)

func NewLocker() *Locker {
	return &Locker{held: map[string]lease{}, clock: time.Now}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}
