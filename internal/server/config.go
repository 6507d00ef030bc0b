package server

import (
	"os"

	"github.com/dustin/go-humanize"

	"github.com/pitchbox/pitchbox/internal/uploader"
)

const (
	DefaultAddr        = "127.0.0.1:8080"
	DefaultDataDir     = "./data"
	DefaultRateLimit   = "120-M"
	DefaultMinFreeDisk = 1 << 30 // 1 GiB
)

type Config struct {
	HTTP        HTTPConfig
	DataDir     string
	DBPath      string
	RateLimit   string // ulule/limiter formatted rate, e.g. "120-M"
	MaxFileSize int64
	MinFreeDisk uint64
}

type HTTPConfig struct {
	Addr     string
	CertFile string
	KeyFile  string
}

// ConfigFromEnv reads the server configuration from PITCHBOX_* environment
// variables, falling back to defaults. Callers load .env files first.
func ConfigFromEnv() *Config {
	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:     envOr("PITCHBOX_ADDR", DefaultAddr),
			CertFile: os.Getenv("PITCHBOX_CERT_FILE"),
			KeyFile:  os.Getenv("PITCHBOX_KEY_FILE"),
		},
		DataDir:     envOr("PITCHBOX_DATA_DIR", DefaultDataDir),
		DBPath:      os.Getenv("PITCHBOX_DB_PATH"),
		RateLimit:   envOr("PITCHBOX_RATE_LIMIT", DefaultRateLimit),
		MaxFileSize: uploader.MaxFileSize,
		MinFreeDisk: DefaultMinFreeDisk,
	}

	if v := os.Getenv("PITCHBOX_MAX_FILE_SIZE"); v != "" {
		if size, err := humanize.ParseBytes(v); err == nil {
			cfg.MaxFileSize = int64(size)
		}
	}
	if v := os.Getenv("PITCHBOX_MIN_FREE_DISK"); v != "" {
		if size, err := humanize.ParseBytes(v); err == nil {
			cfg.MinFreeDisk = size
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
