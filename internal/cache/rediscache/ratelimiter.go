package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Фиксированное окно: TTL ставится только первым INCR в окне,
// поэтому частые запросы не продлевают блокировку.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

type RateLimiter struct {
	c      *redis.Client
	prefix string
}

// Decision результат одной попытки.
type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// Take учитывает попытку subject в окне window.
func (rl *RateLimiter) Take(ctx context.Context, subject string, limit int64, window time.Duration) (Decision, error) {
	res, err := fixedWindow.Run(ctx, rl.c, []string{rl.prefix + subject}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrapf(err, "redis ratelimit %s", subject)
	}
	if len(res) != 2 {
		return Decision{}, errors.Errorf("redis ratelimit %s: unexpected reply %v", subject, res)
	}

	d := Decision{Count: res[0], Allowed: res[0] <= limit}
	if !d.Allowed && res[1] > 0 {
		d.RetryAfter = time.Duration(res[1]) * time.Millisecond
	}
	return d, nil
}

// Allow короткая форма Take: (allowed, count).
func (rl *RateLimiter) Allow(ctx context.Context, subject string, limit int64, window time.Duration) (bool, int64, error) {
	d, err := rl.Take(ctx, subject, limit, window)
	if err != nil {
		return false, 0, err
	}
	return d.Allowed, d.Count, nil
}
