package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads config from env", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/approvals_test")
		t.Setenv("PORT", "9090")
		t.Setenv("NATS_URL", "nats://localhost:4222")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, "postgres://localhost/approvals_test", cfg.Database.URL)
		require.Equal(t, 9090, cfg.Server.Port)
		require.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
		require.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/approvals_test")
		t.Setenv("PORT", "")
		t.Setenv("NATS_URL", "")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, "be-approvals", cfg.Service.Name)
		require.Equal(t, 8086, cfg.Server.Port)
		require.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
		require.Equal(t, int32(10), cfg.Database.MaxConns)
		require.Empty(t, cfg.NATS.URL)
	})

	t.Run("requires a database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "DATABASE_URL")
	})

	t.Run("rejects an out-of-range port", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/approvals_test")
		t.Setenv("PORT", "70000")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "PORT")
	})

	t.Run("rejects inverted pool bounds", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/approvals_test")
		t.Setenv("DATABASE_MAX_CONNS", "2")
		t.Setenv("DATABASE_MIN_CONNS", "5")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "DATABASE_MAX_CONNS")
	})

	t.Run("ignores malformed numeric values", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/approvals_test")
		t.Setenv("PORT", "not-a-number")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, 8086, cfg.Server.Port)
	})
}
