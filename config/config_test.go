package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	for _, key := range []string{"PORT", "REDIS_ADDR", "QUOTE_TIMEOUT", "REFRESH_SCHEDULE", "ENABLE_YAHOO", "DB_HOST"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 60*time.Second, cfg.QuoteTimeout)
	assert.Equal(t, "@every 30m", cfg.RefreshSchedule)
	assert.True(t, cfg.EnableYahoo)
	assert.Equal(t, 5*time.Minute, cfg.QuoteCacheTTL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("QUOTE_TIMEOUT", "15s")
	t.Setenv("ENABLE_YAHOO", "false")
	t.Setenv("QUOTE_RETRIES", "not-a-number")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "tracker")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.QuoteTimeout)
	assert.False(t, cfg.EnableYahoo)
	assert.Equal(t, 2, cfg.QuoteRetries, "unparsable values fall back to the default")
	assert.Contains(t, cfg.DSN(), "host=db")
	assert.Contains(t, cfg.DSN(), "dbname=tracker")
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	require.NoError(t, InitRedis(context.Background(), &Config{RedisAddr: mr.Addr()}))
	t.Cleanup(func() { Rdb.Close() })
	assert.NoError(t, Rdb.Set(context.Background(), "k", "v", 0).Err())

	mr.Close()
	assert.Error(t, InitRedis(context.Background(), &Config{RedisAddr: mr.Addr()}))
}
