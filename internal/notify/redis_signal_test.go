package notify

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-reports/internal/config"
)

func newSignal(t *testing.T) (*RedisSignal, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.RedisAddr = mr.Addr()
	client := NewRedisClient(cfg)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSignal(client, cfg.WakeupKey), mr
}

func TestNotifyThenWait(t *testing.T) {
	ctx := context.Background()
	sig, _ := newSignal(t)

	require.NoError(t, sig.Notify(ctx))
	woke, err := sig.Wait(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, woke)

	depth, err := sig.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestWait_TimesOutWithoutToken(t *testing.T) {
	sig, _ := newSignal(t)
	woke, err := sig.Wait(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, woke)
}

func TestNotify_IsBounded(t *testing.T) {
	ctx := context.Background()
	sig, _ := newSignal(t)
	for i := 0; i < 200; i++ {
		require.NoError(t, sig.Notify(ctx))
	}
	depth, err := sig.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 64, depth)

	require.NoError(t, sig.Drain(ctx))
	depth, err = sig.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestNotify_RedisDown(t *testing.T) {
	sig, mr := newSignal(t)
	mr.Close()
	assert.Error(t, sig.Notify(context.Background()))
}
