package app

import (
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":3000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.TempDir != "temp" {
		t.Fatalf("TempDir = %q", cfg.TempDir)
	}
	if cfg.FFMPEGPath != "ffmpeg" {
		t.Fatalf("FFMPEGPath = %q", cfg.FFMPEGPath)
	}
	if cfg.BTPort != 6881 {
		t.Fatalf("BTPort = %d", cfg.BTPort)
	}
	if cfg.MaxActiveStreams != 4 {
		t.Fatalf("MaxActiveStreams = %d", cfg.MaxActiveStreams)
	}
	if cfg.MaxConnsPerTorrent() != 100 {
		t.Fatalf("MaxConnsPerTorrent = %d", cfg.MaxConnsPerTorrent())
	}
}

func TestLoadConfigProduction(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	cfg := LoadConfig()
	if cfg.TempDir != "/app/temp" {
		t.Fatalf("TempDir = %q", cfg.TempDir)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("TEMP_DIR", "/var/lib/streamgate")
	t.Setenv("TORRENT_PROFILE", "Aggressive")
	t.Setenv("STREAM_MAX_ACTIVE", "12")

	cfg := LoadConfig()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.TempDir != "/var/lib/streamgate" {
		t.Fatalf("TempDir = %q", cfg.TempDir)
	}
	if cfg.MaxConnsPerTorrent() != 200 {
		t.Fatalf("MaxConnsPerTorrent = %d", cfg.MaxConnsPerTorrent())
	}
	if cfg.MaxActiveStreams != 12 {
		t.Fatalf("MaxActiveStreams = %d", cfg.MaxActiveStreams)
	}
}

func TestGetEnvInt64RejectsGarbage(t *testing.T) {
	t.Setenv("STREAM_MAX_ACTIVE", "not-a-number")
	if got := getEnvInt64("STREAM_MAX_ACTIVE", 4); got != 4 {
		t.Fatalf("garbage value accepted: %d", got)
	}
	t.Setenv("STREAM_MAX_ACTIVE", "-2")
	if got := getEnvInt64("STREAM_MAX_ACTIVE", 4); got != 4 {
		t.Fatalf("negative value accepted: %d", got)
	}
}
