package live

import (
	"time"

	"go.uber.org/zap"
)

type deps struct {
	log      *zap.Logger
	pub      Publisher
	producer string
	now      func() time.Time
	progress ProgressStore
}

// Option configures the services of this package.
type Option func(*deps)

func WithLogger(l *zap.Logger) Option {
	return func(d *deps) {
		if l != nil {
			d.log = l
		}
	}
}

// WithPublisher makes the service emit events; producer names the emitting service.
func WithPublisher(p Publisher, producer string) Option {
	return func(d *deps) {
		d.pub = p
		d.producer = producer
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *deps) {
		if now != nil {
			d.now = now
		}
	}
}

// WithProgress lets basket mutations see finalization checkpoints, so a
// live whose finalization has started can no longer be edited.
func WithProgress(p ProgressStore) Option {
	return func(d *deps) { d.progress = p }
}

func buildDeps(opts []Option) deps {
	d := deps{log: zap.NewNop(), now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(&d)
	}
	return d
}

func (d deps) emitter() emitter {
	return emitter{pub: d.pub, producer: d.producer, log: d.log}
}
