package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/redis/go-redis/v9"
)

// Progress keeps finalization checkpoints in one hash per live session, the
// way saga state is kept per order.
type Progress struct{ RDB *redis.Client }

var _ live.ProgressStore = (*Progress)(nil)

func progressKey(liveID string) string { return fmt.Sprintf(KeyFinalizeProgress, liveID) }

func (p *Progress) Load(ctx context.Context, liveID string) (map[string]live.BasketProgress, error) {
	raw, err := p.RDB.HGetAll(ctx, progressKey(liveID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]live.BasketProgress, len(raw))
	for basketID, v := range raw {
		var bp live.BasketProgress
		if err := json.Unmarshal([]byte(v), &bp); err != nil {
			return nil, fmt.Errorf("decode progress %s: %w", basketID, err)
		}
		out[basketID] = bp
	}
	return out, nil
}

func (p *Progress) Save(ctx context.Context, liveID string, bp live.BasketProgress) error {
	b, err := json.Marshal(bp)
	if err != nil {
		return err
	}
	key := progressKey(liveID)
	_, err = p.RDB.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, bp.BasketID, b)
		pipe.Expire(ctx, key, TTLProgress)
		return nil
	})
	return err
}

func (p *Progress) Pending(ctx context.Context, liveID string) (bool, error) {
	n, err := p.RDB.Exists(ctx, progressKey(liveID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Progress) Clear(ctx context.Context, liveID string) error {
	return p.RDB.Del(ctx, progressKey(liveID)).Err()
}
