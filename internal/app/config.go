// Package app holds process-level configuration, loaded from the environment.
package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr  string
	AppEnv    string
	LogLevel  string
	LogFormat string

	// TempDir is the root under which streams/ and hls/ live. Empty means
	// "./temp" in development and /app/temp in production.
	TempDir string

	FFMPEGPath string

	BTPort             int
	TorrentProfile     string // "default" or "aggressive"
	MaxActiveStreams   int
	MetadataTimeoutSec int

	JanitorSweepMinutes int
	MaxStreamAgeMinutes int
}

func LoadConfig() Config {
	cfg := Config{
		HTTPAddr:            ":" + getEnv("PORT", "3000"),
		AppEnv:              strings.ToLower(getEnv("APP_ENV", "development")),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TempDir:             getEnv("TEMP_DIR", ""),
		FFMPEGPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		BTPort:              int(getEnvInt64("BT_PORT", 6881)),
		TorrentProfile:      strings.ToLower(getEnv("TORRENT_PROFILE", "default")),
		MaxActiveStreams:    int(getEnvInt64("STREAM_MAX_ACTIVE", 4)),
		MetadataTimeoutSec:  int(getEnvInt64("TORRENT_METADATA_TIMEOUT_SEC", 60)),
		JanitorSweepMinutes: int(getEnvInt64("JANITOR_SWEEP_MINUTES", 10)),
		MaxStreamAgeMinutes: int(getEnvInt64("STREAM_MAX_AGE_MINUTES", 30)),
	}
	if cfg.TempDir == "" {
		if cfg.AppEnv == "production" {
			cfg.TempDir = "/app/temp"
		} else {
			cfg.TempDir = "temp"
		}
	}
	return cfg
}

// MaxConnsPerTorrent maps the torrent profile to a connection budget.
func (c Config) MaxConnsPerTorrent() int {
	if c.TorrentProfile == "aggressive" {
		return 200
	}
	return 100
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
