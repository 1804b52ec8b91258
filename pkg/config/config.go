package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the orchestrator process.
type Config struct {
	Port string

	// Loop
	LoopInterval time.Duration
	CallTimeout  time.Duration
	DryRun       bool

	// MT5 REST bridge
	BridgeURL       string
	BridgeTimeout   time.Duration
	BridgeRateLimit float64

	// Paper trading (DRY_RUN)
	PaperBalance  float64
	SyntheticFeed bool // paper trade against generated prices instead of the bridge feed

	// Trading configuration file (symbols, bindings, risk). Empty uses built-in defaults.
	TradingConfigPath string
	Symbols           []string

	// Database
	DBPath string

	// Notifications
	NotifyWorkers   int
	NotifyQueueSize int
	AlertWebhookURL string

	// API
	APIRateLimit float64
	APIBurst     int

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		LoopInterval:      getEnvDuration("LOOP_INTERVAL", 5*time.Second),
		CallTimeout:       getEnvDuration("CALL_TIMEOUT", 5*time.Second),
		DryRun:            getEnv("DRY_RUN", "true") == "true",
		BridgeURL:         strings.TrimRight(getEnv("BRIDGE_URL", "http://localhost:18812"), "/"),
		BridgeTimeout:     getEnvDuration("BRIDGE_TIMEOUT", 5*time.Second),
		BridgeRateLimit:   getEnvFloat("BRIDGE_RATE_LIMIT", 20),
		PaperBalance:      getEnvFloat("PAPER_BALANCE", 10000),
		SyntheticFeed:     getEnv("SYNTHETIC_FEED", "false") == "true",
		TradingConfigPath: getEnv("TRADING_CONFIG", ""),
		Symbols:           splitAndTrim(getEnv("TRADING_SYMBOLS", "")),
		DBPath:            getEnv("DB_PATH", "./data/orchestrator.db"),
		NotifyWorkers:     getEnvInt("NOTIFY_WORKERS", 4),
		NotifyQueueSize:   getEnvInt("NOTIFY_QUEUE_SIZE", 256),
		AlertWebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
		APIRateLimit:      getEnvFloat("API_RATE_LIMIT", 20),
		APIBurst:          getEnvInt("API_BURST", 50),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
