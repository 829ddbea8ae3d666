package redisx

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease re-acquired by another replica is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Locker is a single-instance Redis lease lock.
type Locker struct{ RDB *redis.Client }

var _ live.Locker = (*Locker)(nil)

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.RDB.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.RDB, []string{key}, token).Err()
}
