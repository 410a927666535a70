package cache

import (
	"context"
	"time"
)

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr атомарно увеличивает счётчик; отсутствующий ключ считается нулём.
	Incr(ctx context.Context, key string) (int64, error)
}
