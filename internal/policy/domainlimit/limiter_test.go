package domainlimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCapsConcurrencyPerDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrent: 1})

	release, err := l.Acquire(context.Background(), "example.com")
	require.NoError(t, err)

	blocked, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(blocked, "example.com")
	assert.Error(t, err, "second slot on the same domain must block")

	release()
	release2, err := l.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	release2()
}

func TestAcquireDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrent: 1})

	releaseA, err := l.Acquire(context.Background(), "a.example.com")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := l.Acquire(context.Background(), "b.example.com")
	require.NoError(t, err)
	defer releaseB()
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrent: 1})

	release, err := l.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	again()
}

func TestAcquirePacesRequests(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrent: 4, RPS: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := l.Acquire(context.Background(), "example.com")
		require.NoError(t, err)
		release()
	}
	// Two paced waits at 20 rps is roughly 100ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestAcquireCanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrent: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Acquire(ctx, "example.com")
	assert.Error(t, err)
}
