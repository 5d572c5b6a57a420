package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr      string
	ProxyAddr string

	// Store vaut "sqlite" ou "redis".
	Store     string
	DBPath    string
	RedisAddr string

	CacheTTL  time.Duration
	SweepCron string

	CORSOrigins  []string
	LogLevel     string
	MaxBodyBytes int64
	RefetchRPS   float64

	// ServerURL est utilisé par le CLI.
	ServerURL string
}

func Default() Config {
	return Config{
		Addr:         envOr("SUBCAP_ADDR", "127.0.0.1:8080"),
		ProxyAddr:    envOrEmpty("SUBCAP_PROXY_ADDR", "127.0.0.1:8081"),
		Store:        envOr("SUBCAP_STORE", "sqlite"),
		DBPath:       envOr("SUBCAP_DB_PATH", "subcap.db"),
		RedisAddr:    envOr("SUBCAP_REDIS_ADDR", "127.0.0.1:6379"),
		CacheTTL:     envDuration("SUBCAP_CACHE_TTL", 7*24*time.Hour),
		SweepCron:    envOr("SUBCAP_SWEEP_CRON", "@every 1h"),
		CORSOrigins:  splitList(envOr("SUBCAP_CORS_ORIGINS", "*")),
		LogLevel:     envOr("SUBCAP_LOG_LEVEL", "info"),
		MaxBodyBytes: envInt64("SUBCAP_MAX_BODY_BYTES", 8<<20),
		RefetchRPS:   envFloat("SUBCAP_REFETCH_RPS", 2),
		ServerURL:    envOr("SUBCAP_SERVER_URL", "http://127.0.0.1:8080"),
	}
}

// Load charge d'abord les fichiers .env (absents ignorés, variables déjà
// définies prioritaires) puis construit la config par défaut.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	return Default(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envOrEmpty distingue "non défini" (défaut) de "défini vide" (désactivé).
func envOrEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envInt64(key string, def int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
