// Package params loads service configuration from the environment, with an
// optional .env file for development. Priority: ENV > .env file > defaults.
package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type API struct {
	ListenAddr     string
	MetricsAddr    string
	AllowedOrigins []string
	SessionTTL     time.Duration
}

type Storage struct {
	DataDir string
}

type Engine struct {
	// SelfTradeAllow lists identities permitted to match against themselves.
	SelfTradeAllow []string
	// SelfTradeAllowFile, when set, is watched and hot-reloaded into the
	// policy. One identity per line, '#' comments.
	SelfTradeAllowFile string
}

type Seed struct {
	// Markets are "id=Display Name" entries, comma separated. Applied only
	// when the store holds no markets yet.
	Markets []string
	// Users are "name:bcrypt-hash" entries, comma separated. Existing users
	// are never overwritten. Hashes come from the passwd tool.
	Users []string
}

type Log struct {
	Level string
	File  string // optional; empty logs to stdout only
}

type Config struct {
	API     API
	Storage Storage
	Engine  Engine
	Seed    Seed
	Log     Log
}

func Default() Config {
	return Config{
		API: API{
			ListenAddr:     ":8080",
			MetricsAddr:    ":9100",
			AllowedOrigins: []string{"http://localhost:3000"},
			SessionTTL:     12 * time.Hour,
		},
		Storage: Storage{DataDir: "./data"},
		Engine:  Engine{},
		Seed:    Seed{},
		Log:     Log{Level: "info"},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("API_LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("METRICS_LISTEN_ADDR"); v != "" {
		cfg.API.MetricsAddr = v
	}
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("SESSION_TTL_MIN"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil && mins > 0 {
			cfg.API.SessionTTL = time.Duration(mins) * time.Minute
		}
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SELF_TRADE_ALLOW"); v != "" {
		cfg.Engine.SelfTradeAllow = splitCSV(v)
	}
	if v := os.Getenv("SELF_TRADE_ALLOW_FILE"); v != "" {
		cfg.Engine.SelfTradeAllowFile = v
	}

	if v := os.Getenv("MARKETS"); v != "" {
		cfg.Seed.Markets = splitCSV(v)
	}
	if v := os.Getenv("USERS"); v != "" {
		cfg.Seed.Users = splitCSV(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	return cfg
}

// ParseMarketSeed splits an "id=Display Name" entry. The display name falls
// back to the id when omitted.
func ParseMarketSeed(entry string) (id, display string, ok bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", "", false
	}
	id, display, found := strings.Cut(entry, "=")
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", false
	}
	if !found || strings.TrimSpace(display) == "" {
		return id, id, true
	}
	return id, strings.TrimSpace(display), true
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
