/*
Package redis provides an engine.Locker shared by every process that talks to
the same Redis instance.

PURPOSE:
  The in-process engine.KeyedMutex only serializes goroutines of one server.
  When several servers share one database, check-then-act must be serialized
  across them; this locker does that with a Redis key per resource.

PROTOCOL:
  acquire: SET <prefix><key> <token> NX PX <ttl>, retried every RetryDelay
           until ctx is done or WaitTimeout elapses
  release: compare-and-delete via Lua, so a holder whose TTL expired can
           never delete a lock now owned by someone else

TTL:
  The TTL bounds how long a crashed holder blocks others. It must exceed the
  longest transaction the engine runs under a lock.
*/
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/warp/lab-booking/engine"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// ErrLockTimeout is returned when the lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock wait timed out")

// Options configures a Locker. Zero fields get defaults.
type Options struct {
	Prefix      string        // default "labbook:lock:"
	TTL         time.Duration // default 10s
	RetryDelay  time.Duration // default 25ms
	WaitTimeout time.Duration // default 5s; applies when ctx has no deadline
	Logger      *slog.Logger
	NewToken    func() string
}

// Locker implements engine.Locker on Redis.
type Locker struct {
	client goredis.Cmdable
	opts   Options
}

var _ engine.Locker = (*Locker)(nil)

// New returns a Locker using client.
func New(client goredis.Cmdable, opts Options) *Locker {
	if opts.Prefix == "" {
		opts.Prefix = "labbook:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 25 * time.Millisecond
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	return &Locker{client: client, opts: opts}
}

// Lock acquires key. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.WaitTimeout)
		defer cancel()
	}

	redisKey := l.opts.Prefix + key
	token := l.opts.NewToken()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock %s: %w: %w", key, ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		timer := time.NewTimer(l.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w: %w", key, ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Locker) releaser(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(redisKey, token) })
	}
}

func (l *Locker) release(redisKey, token string) {
	// The caller's context may already be cancelled; release regardless.
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.TTL)
	defer cancel()

	n, err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
	if err != nil {
		l.opts.Logger.Warn("failed to release lock", "key", redisKey, "error", err)
		return
	}
	if n == 0 {
		l.opts.Logger.Warn("lock expired before release", "key", redisKey)
	}
}
