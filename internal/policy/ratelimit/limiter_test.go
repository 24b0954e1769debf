package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "nitter.test"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "nitter.test"))
	if d := time.Since(start); d < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", d)
	}

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "other.test"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "slow.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "slow.test"))
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "fast.test"))
	}
}

func TestCooldownExpires(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	l := New(Config{Cooldown: 90 * time.Second, Now: clock})

	require.True(t, l.Available("Nitter.Test"))
	l.CoolDown("nitter.test")
	require.False(t, l.Available("NITTER.test"))
	require.True(t, l.Available("other.test"))

	mu.Lock()
	now = now.Add(91 * time.Second)
	mu.Unlock()
	require.True(t, l.Available("nitter.test"))
}
