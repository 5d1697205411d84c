package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("VERDANT_JWT_SECRET", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("VERDANT_JWT_SECRET", "test-secret")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "sqlite://verdant.db", cfg.DatabaseURL)
		assert.Equal(t, "http://localhost:3000", cfg.CORSOrigin)
		assert.Equal(t, "verdant", cfg.JWTIssuer)
		assert.Equal(t, 7*24*time.Hour, cfg.JWTExpiry)
		assert.Equal(t, float64(10), cfg.RateLimitRPS)
		assert.Equal(t, 30, cfg.RateLimitBurst)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("VERDANT_JWT_SECRET", "test-secret")
		t.Setenv("VERDANT_DATABASE_URL", "postgres://localhost/verdant")
		t.Setenv("VERDANT_JWT_EXPIRY", "1h")
		t.Setenv("VERDANT_RATE_LIMIT_BURST", "5")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/verdant", cfg.DatabaseURL)
		assert.Equal(t, time.Hour, cfg.JWTExpiry)
		assert.Equal(t, 5, cfg.RateLimitBurst)
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Setenv("VERDANT_JWT_SECRET", "test-secret")
		t.Setenv("VERDANT_JWT_EXPIRY", "next week")

		_, err := Load()
		assert.Error(t, err)
	})
}
