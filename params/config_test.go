package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, ":9100", cfg.API.MetricsAddr)
	assert.Equal(t, 12*time.Hour, cfg.API.SessionTTL)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Engine.SelfTradeAllow)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("API_LISTEN_ADDR", ":9999")
	t.Setenv("SESSION_TTL_MIN", "30")
	t.Setenv("DATA_DIR", "/var/lib/markbook")
	t.Setenv("SELF_TRADE_ALLOW", "Charlie, desk-bot ,")
	t.Setenv("MARKETS", "alpha=Thesis Alpha,beta")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadFromEnv("")
	assert.Equal(t, ":9999", cfg.API.ListenAddr)
	assert.Equal(t, 30*time.Minute, cfg.API.SessionTTL)
	assert.Equal(t, "/var/lib/markbook", cfg.Storage.DataDir)
	assert.Equal(t, []string{"Charlie", "desk-bot"}, cfg.Engine.SelfTradeAllow)
	assert.Equal(t, []string{"alpha=Thesis Alpha", "beta"}, cfg.Seed.Markets)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnvBadTTLKeepsDefault(t *testing.T) {
	t.Setenv("SESSION_TTL_MIN", "soon")
	cfg := LoadFromEnv("")
	assert.Equal(t, 12*time.Hour, cfg.API.SessionTTL)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("METRICS_LISTEN_ADDR=:7070\n"), 0o644))
	// godotenv loads into the process environment.
	t.Cleanup(func() { os.Unsetenv("METRICS_LISTEN_ADDR") })

	cfg := LoadFromEnv(path)
	assert.Equal(t, ":7070", cfg.API.MetricsAddr)
}

func TestParseMarketSeed(t *testing.T) {
	tests := []struct {
		entry       string
		id, display string
		ok          bool
	}{
		{"alpha=Thesis Alpha", "alpha", "Thesis Alpha", true},
		{"beta", "beta", "beta", true},
		{"gamma=", "gamma", "gamma", true},
		{"  delta = Display  ", "delta", "Display", true},
		{"", "", "", false},
		{"=Nameless", "", "", false},
	}
	for _, tt := range tests {
		id, display, ok := ParseMarketSeed(tt.entry)
		assert.Equal(t, tt.ok, ok, "entry %q", tt.entry)
		assert.Equal(t, tt.id, id, "entry %q", tt.entry)
		assert.Equal(t, tt.display, display, "entry %q", tt.entry)
	}
}
