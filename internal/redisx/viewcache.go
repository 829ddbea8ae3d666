package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/redis/go-redis/v9"
)

// ViewCache shares the latest live view between API replicas, so a replica
// whose poller has not refreshed yet can still answer.
type ViewCache struct{ RDB *redis.Client }

func (c *ViewCache) Get(ctx context.Context, liveID string) (live.View, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyLiveView, liveID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return live.View{}, false, nil
	}
	if err != nil {
		return live.View{}, false, err
	}
	var v live.View
	if err := json.Unmarshal(b, &v); err != nil {
		return live.View{}, false, err
	}
	return v, true, nil
}

func (c *ViewCache) Put(ctx context.Context, liveID string, v live.View) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyLiveView, liveID), b, TTLViewSnap).Err()
}
