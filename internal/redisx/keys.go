package redisx

import "time"

const (
	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Finalization checkpoints per live: hash live:finalize:{live_id} basket_id -> progress json
	KeyFinalizeProgress = "live:finalize:%s"

	// Last poller snapshot of a live view: live:view:{live_id} -> view json
	KeyLiveView = "live:view:%s"
)

var (
	TTLDedup    = 48 * time.Hour
	TTLProgress = 48 * time.Hour
	TTLViewSnap = 30 * time.Second
)
