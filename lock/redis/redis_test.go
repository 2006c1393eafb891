package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	l := New(client, Options{
		TTL:         time.Second,
		RetryDelay:  time.Millisecond,
		WaitTimeout: 50 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewToken:    func() string { return "token-1" },
	})
	return l, mock
}

func TestLock_AcquireAndRelease(t *testing.T) {
	// GIVEN: a free key
	l, mock := newTestLocker(t)
	mock.ExpectSetNX("labbook:lock:service:7", "token-1", time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"labbook:lock:service:7"}, "token-1").SetVal(int64(1))

	// WHEN: locking and unlocking
	unlock, err := l.Lock(context.Background(), "service:7")
	require.NoError(t, err)
	unlock()
	unlock()

	// THEN: exactly one SET NX and one release were sent
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLock_RetriesWhileHeld(t *testing.T) {
	l, mock := newTestLocker(t)
	mock.ExpectSetNX("labbook:lock:service:7", "token-1", time.Second).SetVal(false)
	mock.ExpectSetNX("labbook:lock:service:7", "token-1", time.Second).SetVal(false)
	mock.ExpectSetNX("labbook:lock:service:7", "token-1", time.Second).SetVal(true)

	unlock, err := l.Lock(context.Background(), "service:7")

	require.NoError(t, err)
	assert.NotNil(t, unlock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLock_TimesOut(t *testing.T) {
	l, mock := newTestLocker(t)
	for i := 0; i < 1000; i++ {
		mock.ExpectSetNX("labbook:lock:worker:jane doe", "token-1", time.Second).SetVal(false)
	}

	_, err := l.Lock(context.Background(), "worker:jane doe")

	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_RedisError(t *testing.T) {
	l, mock := newTestLocker(t)
	mock.ExpectSetNX("labbook:lock:service:7", "token-1", time.Second).SetErr(errors.New("connection refused"))

	_, err := l.Lock(context.Background(), "service:7")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNew_Defaults(t *testing.T) {
	client, _ := redismock.NewClientMock()
	l := New(client, Options{})

	assert.Equal(t, "labbook:lock:", l.opts.Prefix)
	assert.Equal(t, 10*time.Second, l.opts.TTL)
	assert.NotEmpty(t, l.opts.NewToken())
}
