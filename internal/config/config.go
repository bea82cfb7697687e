package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenPort int
	WSAddr     string
	AdminAddr  string

	RedisURL       string
	DatabaseURL    string
	MigrateOnStart bool

	MaxClients     int
	MaxMessageSize int
	SendQueueSize  int
	RateLimitRPS   float64
	RateLimitBurst int

	TimeoutSweep   time.Duration
	CleanupSweep   time.Duration
	SessionTTL     time.Duration
	PersistTimeout time.Duration

	TimePerPlayerMs int
	RatedTolerance  int

	MessagesDir string
}

// Load reads .env (if present) and the process environment.
// portArg, when non-empty, overrides LISTEN_PORT.
func Load(portArg string) (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		ListenPort:      8080,
		AdminAddr:       ":9090",
		MigrateOnStart:  true,
		MaxClients:      1000,
		MaxMessageSize:  16384,
		SendQueueSize:   256,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		TimeoutSweep:    5 * time.Second,
		CleanupSweep:    60 * time.Second,
		SessionTTL:      24 * time.Hour,
		PersistTimeout:  3 * time.Second,
		TimePerPlayerMs: 600000,
		RatedTolerance:  200,
	}

	cfg.WSAddr = strings.TrimSpace(os.Getenv("WS_ADDR"))
	if v, ok := os.LookupEnv("ADMIN_ADDR"); ok {
		cfg.AdminAddr = strings.TrimSpace(v)
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("MIGRATE_ON_START")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MigrateOnStart = b
		}
	}

	intEnv("LISTEN_PORT", &cfg.ListenPort)
	intEnv("MAX_CLIENTS", &cfg.MaxClients)
	intEnv("MAX_MESSAGE_SIZE", &cfg.MaxMessageSize)
	intEnv("SEND_QUEUE_SIZE", &cfg.SendQueueSize)
	intEnv("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	intEnv("TIME_PER_PLAYER_MS", &cfg.TimePerPlayerMs)
	intEnv("RATED_TOLERANCE", &cfg.RatedTolerance)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		}
	}

	durationEnv("TIMEOUT_SWEEP_SEC", time.Second, &cfg.TimeoutSweep)
	durationEnv("CLEANUP_SWEEP_SEC", time.Second, &cfg.CleanupSweep)
	durationEnv("SESSION_TTL_SEC", time.Second, &cfg.SessionTTL)
	durationEnv("PERSIST_TIMEOUT_MS", time.Millisecond, &cfg.PersistTimeout)

	if p := strings.TrimSpace(portArg); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, errors.New("invalid port argument")
		}
		cfg.ListenPort = n
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}

func intEnv(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func durationEnv(key string, unit time.Duration, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * unit
		}
	}
}
