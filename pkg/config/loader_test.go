package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/config"
)

type pushSettings struct {
	Workers  int           `env:"PUSH_WORKERS" envDefault:"16"`
	Timeout  time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`
	Subject  string        `env:"PUSH_SUBJECT,required"`
	PruneOff bool          `env:"PUSH_PRUNE_DISABLED" envDefault:"false"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults and required values", func(t *testing.T) {
		var cfg pushSettings
		err := config.Load(&cfg, config.WithEnvironment(map[string]string{
			"PUSH_SUBJECT": "mailto:ops@example.com",
		}))
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Workers)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.Equal(t, "mailto:ops@example.com", cfg.Subject)
		assert.False(t, cfg.PruneOff)
	})

	t.Run("explicit values override defaults", func(t *testing.T) {
		var cfg pushSettings
		err := config.Load(&cfg, config.WithEnvironment(map[string]string{
			"PUSH_SUBJECT": "mailto:ops@example.com",
			"PUSH_WORKERS": "4",
			"PUSH_TIMEOUT": "2s",
		}))
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, 2*time.Second, cfg.Timeout)
	})

	t.Run("prefix", func(t *testing.T) {
		var cfg pushSettings
		err := config.Load(&cfg,
			config.WithPrefix("NOTIFIER_"),
			config.WithEnvironment(map[string]string{
				"NOTIFIER_PUSH_SUBJECT": "mailto:a@example.com",
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, "mailto:a@example.com", cfg.Subject)
	})

	t.Run("missing required value", func(t *testing.T) {
		var cfg pushSettings
		err := config.Load(&cfg, config.WithEnvironment(map[string]string{}))
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *pushSettings
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	assert.Panics(t, func() {
		var cfg pushSettings
		config.MustLoad(&cfg, config.WithEnvironment(map[string]string{}))
	})
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("NOTIFIER_CFG_TEST_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("NOTIFIER_CFG_TEST_VALUE") })

	require.NoError(t, config.LoadFiles(path))
	assert.Equal(t, "from-file", os.Getenv("NOTIFIER_CFG_TEST_VALUE"))

	assert.Error(t, config.LoadFiles(filepath.Join(dir, "missing.env")))
	assert.NoError(t, config.LoadFiles())
}
