package svc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/infrastructure/config"
	"quoteflow/internal/infrastructure/resilience"
)

// offlineConfig points the feed at a port nothing listens on.
func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Feed.Addr = "127.0.0.1:1"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "quotes.db")
	cfg.Cache.Enabled = true
	cfg.Worker.MaxAttempts = 2
	cfg.Worker.BackoffMinMs = 1
	cfg.Worker.BackoffMaxMs = 2
	require.NoError(t, config.Finalize(cfg))
	return cfg
}

func TestNewWorksWithoutRedis(t *testing.T) {
	ctx := context.Background()
	sc, err := New(ctx, offlineConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	report, err := sc.Portfolio().ClientPositions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, report.Assets)

	_, err = sc.Store().ResolveTicker(ctx, "PETR4")
	assert.Error(t, err)
}

func TestRedisUsersRetryThenFail(t *testing.T) {
	sc, err := New(context.Background(), offlineConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	_, err = sc.Publisher()
	assert.ErrorIs(t, err, ErrFeedInitFailed)
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)

	_, err = sc.Cache()
	assert.ErrorIs(t, err, ErrFeedInitFailed)

	_, err = sc.BuildWorker()
	assert.ErrorIs(t, err, ErrFeedInitFailed)
}

func TestCacheDisabledNeedsNoRedis(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Cache.Enabled = false
	sc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	cache, err := sc.Cache()
	require.NoError(t, err)
	assert.Nil(t, cache)

	positions, err := sc.positionStore()
	require.NoError(t, err)
	assert.Equal(t, sc.Store(), positions)
}
