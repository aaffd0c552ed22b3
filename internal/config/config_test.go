package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Game.Tables["card"].Betting)
	assert.Equal(t, 200*time.Millisecond, cfg.Game.Tables["rocket"].Tick)
	assert.Equal(t, int64(300), cfg.Game.Match.Tolerance)
	assert.Equal(t, 90*time.Second, cfg.Game.Match.Durations["football"])
	assert.Equal(t, 10, cfg.Game.Solo.GuessAttempts)
	assert.Equal(t, int64(10), cfg.RateLimit.Bets)
	assert.True(t, cfg.Game.WarmStart)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9090"
database:
  driver: sqlite
  dsn: "file:arcade.db"
game:
  tables:
    card:
      betting: 10s
  match:
    tolerance: 50
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("ARCADE_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Game.Tables["card"].Betting)
	assert.Equal(t, 3*time.Second, cfg.Game.Tables["card"].Reveal)
	assert.Equal(t, int64(50), cfg.Game.Match.Tolerance)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
