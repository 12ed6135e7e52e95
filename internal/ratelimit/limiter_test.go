package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitThrottlesPerKey(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 50, DefaultBurst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "a.ac.uk"))
	require.NoError(t, l.Wait(ctx, "a.ac.uk"))
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	// A different key has its own bucket and is not delayed.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "b.ac.uk"))
	require.Less(t, time.Since(start), 15*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "slow"))
	require.Error(t, l.Wait(ctx, "slow"))
}

func TestWaitHostKeysByHostname(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0, DefaultBurst: 1})
	require.NoError(t, l.WaitHost(context.Background(), "https://a.ac.uk/job/1"))
	require.NoError(t, l.WaitHost(context.Background(), "::bad::url::"))
}
