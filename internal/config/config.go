package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "ensemble.db"
	defaultEnsembleFile  = "ensemble.yaml"
	defaultDriver        = "local"
	defaultSubmitWorkers = 8
	defaultPollInterval  = 2 * time.Second
	defaultNATSSubject   = "ensemble.status"

	envListenAddr    = "ENSEMBLE_LISTEN_ADDR"
	envDBPath        = "ENSEMBLE_DB_PATH"
	envLogLevel      = "ENSEMBLE_LOG_LEVEL"
	envEnsembleFile  = "ENSEMBLE_FILE"
	envDriver        = "ENSEMBLE_DRIVER"
	envSubmitWorkers = "ENSEMBLE_SUBMIT_WORKERS"
	envMaxRunning    = "ENSEMBLE_MAX_RUNNING"
	envMaxRuntime    = "ENSEMBLE_MAX_RUNTIME"
	envPollInterval  = "ENSEMBLE_POLL_INTERVAL"
	envNATSURL       = "ENSEMBLE_NATS_URL"
	envNATSSubject   = "ENSEMBLE_NATS_SUBJECT"
	envSentryDSN     = "ENSEMBLE_SENTRY_DSN"
	envOTLPEndpoint  = "ENSEMBLE_OTLP_ENDPOINT"
	envVerbose       = "ENSEMBLE_VERBOSE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	EnsembleFile string
	Driver       string

	SubmitWorkers int
	// MaxRunning caps concurrently running jobs; zero means the ensemble size.
	MaxRunning int
	// MaxRuntime is the per-job wall clock limit; zero means unlimited.
	MaxRuntime   time.Duration
	PollInterval time.Duration
	Verbose      bool

	NATSURL      string
	NATSSubject  string
	SentryDSN    string
	OTLPEndpoint string
}

// Load reads configuration from environment variables with sensible defaults.
// Unparseable numeric values fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		DBPath:        defaultDBPath,
		LogLevel:      slog.LevelInfo,
		EnsembleFile:  defaultEnsembleFile,
		Driver:        defaultDriver,
		SubmitWorkers: defaultSubmitWorkers,
		PollInterval:  defaultPollInterval,
		NATSSubject:   defaultNATSSubject,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envEnsembleFile); v != "" {
		cfg.EnsembleFile = v
	}
	if v := os.Getenv(envDriver); v != "" {
		cfg.Driver = v
	}
	cfg.SubmitWorkers = parsePositiveInt(os.Getenv(envSubmitWorkers), cfg.SubmitWorkers)
	cfg.MaxRunning = parsePositiveInt(os.Getenv(envMaxRunning), cfg.MaxRunning)
	cfg.MaxRuntime = parseDuration(os.Getenv(envMaxRuntime), cfg.MaxRuntime)
	cfg.PollInterval = parseDuration(os.Getenv(envPollInterval), cfg.PollInterval)
	if v := os.Getenv(envVerbose); v != "" {
		cfg.Verbose, _ = strconv.ParseBool(v)
	}
	cfg.NATSURL = os.Getenv(envNATSURL)
	if v := os.Getenv(envNATSSubject); v != "" {
		cfg.NATSSubject = v
	}
	cfg.SentryDSN = os.Getenv(envSentryDSN)
	cfg.OTLPEndpoint = os.Getenv(envOTLPEndpoint)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parsePositiveInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
