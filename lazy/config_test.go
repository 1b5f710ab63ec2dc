package lazy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if cfg.ProximityMargin != 200 {
		t.Fatalf("ProximityMargin = %d, want 200", cfg.ProximityMargin)
	}
	if cfg.PreloadCeiling != 4*time.Second {
		t.Fatalf("PreloadCeiling = %v, want 4s", cfg.PreloadCeiling)
	}
	if cfg.PreloadAttempts != 2 {
		t.Fatalf("PreloadAttempts = %d, want 2", cfg.PreloadAttempts)
	}
	if cfg.FetchTimeout != 8*time.Second {
		t.Fatalf("FetchTimeout = %v, want 8s", cfg.FetchTimeout)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()
	// The zero value fills in everything.
	got := Config{}.withDefaults()
	if got != DefaultConfig() {
		t.Fatalf("zero withDefaults = %+v, want defaults", got)
	}
	// Explicit values survive.
	got = Config{ProximityMargin: 50, PreloadCeiling: time.Second}.withDefaults()
	if got.ProximityMargin != 50 || got.PreloadCeiling != time.Second {
		t.Fatalf("withDefaults clobbered explicit values: %+v", got)
	}
	if got.FetchTimeout != 8*time.Second {
		t.Fatalf("withDefaults left FetchTimeout = %v", got.FetchTimeout)
	}
	// Negative cache size means disabled and is preserved.
	got = Config{CacheMaxBytes: -1}.withDefaults()
	if got.CacheMaxBytes != -1 {
		t.Fatalf("withDefaults overwrote disabled cache: %d", got.CacheMaxBytes)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adagio.toml")
	content := `
proximity_margin_px = 350
preload_ceiling_ms = 1500
preload_attempts = 3
fetch_timeout_ms = 2000
user_agent = "adagio-test/9"
cache_max_mb = 8
disk_cache_dir = "/tmp/adagio-cache"
disk_cache_max_mb = 64
rewrite_ttl_ms = 60000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ProximityMargin != 350 {
		t.Fatalf("ProximityMargin = %d, want 350", cfg.ProximityMargin)
	}
	if cfg.PreloadCeiling != 1500*time.Millisecond {
		t.Fatalf("PreloadCeiling = %v, want 1.5s", cfg.PreloadCeiling)
	}
	if cfg.PreloadAttempts != 3 {
		t.Fatalf("PreloadAttempts = %d, want 3", cfg.PreloadAttempts)
	}
	if cfg.UserAgent != "adagio-test/9" {
		t.Fatalf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.CacheMaxBytes != 8<<20 {
		t.Fatalf("CacheMaxBytes = %d, want 8 MiB", cfg.CacheMaxBytes)
	}
	if cfg.DiskCacheDir != "/tmp/adagio-cache" {
		t.Fatalf("DiskCacheDir = %q", cfg.DiskCacheDir)
	}
	if cfg.RewriteTTL != time.Minute {
		t.Fatalf("RewriteTTL = %v, want 1m", cfg.RewriteTTL)
	}
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adagio.toml")
	if err := os.WriteFile(path, []byte("proximity_margin_px = 99\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ProximityMargin != 99 {
		t.Fatalf("ProximityMargin = %d, want 99", cfg.ProximityMargin)
	}
	if cfg.FetchTimeout != DefaultConfig().FetchTimeout {
		t.Fatalf("FetchTimeout = %v, want default", cfg.FetchTimeout)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ADAGIO_MARGIN_PX", "500")
	t.Setenv("ADAGIO_PRELOAD_CEILING_MS", "250")
	t.Setenv("ADAGIO_USER_AGENT", "adagio-env/1")
	t.Setenv("ADAGIO_CACHE_MB", "-1")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ProximityMargin != 500 {
		t.Fatalf("ProximityMargin = %d, want 500", cfg.ProximityMargin)
	}
	if cfg.PreloadCeiling != 250*time.Millisecond {
		t.Fatalf("PreloadCeiling = %v, want 250ms", cfg.PreloadCeiling)
	}
	if cfg.UserAgent != "adagio-env/1" {
		t.Fatalf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.CacheMaxBytes != -1<<20 {
		t.Fatalf("CacheMaxBytes = %d, want memory tier disabled", cfg.CacheMaxBytes)
	}
}

func TestLoadConfigEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adagio.toml")
	if err := os.WriteFile(path, []byte("proximity_margin_px = 100\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ADAGIO_MARGIN_PX", "42")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ProximityMargin != 42 {
		t.Fatalf("ProximityMargin = %d, want env override 42", cfg.ProximityMargin)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("LoadConfig(missing file) = nil error")
	}
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("not[valid[toml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig(malformed file) = nil error")
	}
}
