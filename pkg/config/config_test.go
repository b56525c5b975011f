package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func TestFromViperDefaults(t *testing.T) {
	cfg := fromViper(newTestViper())

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 3, cfg.Progress.MaxWriteRetries)
	assert.Equal(t, 4, cfg.Progress.BulkConcurrency)
	assert.True(t, cfg.Unlock.Async)
	assert.Equal(t, 2*time.Second, cfg.Unlock.RetryDelay)
	assert.Equal(t, 10*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, "curriculum:progress-events", cfg.Notify.Channel)
}

func TestFromViperEnvOverrides(t *testing.T) {
	t.Setenv("PROGRESS_MAX_WRITE_RETRIES", "7")
	t.Setenv("UNLOCK_ASYNC", "false")
	t.Setenv("UNLOCK_RETRY_DELAY", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := fromViper(newTestViper())

	require.Equal(t, 7, cfg.Progress.MaxWriteRetries)
	assert.False(t, cfg.Unlock.Async)
	assert.Equal(t, 2*time.Second, cfg.Unlock.RetryDelay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestPositiveIntFallback(t *testing.T) {
	assert.Equal(t, 5, positiveInt(0, 5))
	assert.Equal(t, 5, positiveInt(-1, 5))
	assert.Equal(t, 2, positiveInt(2, 5))
}
