package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PAIRING_INTERVAL", "")
	t.Setenv("MATCH_TIME_LIMIT", "")

	cfg := Load()
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.PairingInterval)
	assert.Equal(t, 5*time.Minute, cfg.MatchTimeLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PAIRING_INTERVAL", "250ms")
	t.Setenv("RATING_TOLERANCE", "not-a-number")
	t.Setenv("PG_HOST", "db")
	t.Setenv("POSTGRES_USER", "arena")
	t.Setenv("POSTGRES_PASSWORD", "pw")

	cfg := Load()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.PairingInterval)
	assert.Equal(t, 200, cfg.RatingTolerance)
	assert.Equal(t, "postgres://arena:pw@db:5432/arena", cfg.PostgresURL())
}
