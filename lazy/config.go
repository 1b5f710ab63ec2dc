package lazy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config carries the subsystem tunables. The zero value is usable: every
// constructor fills missing fields from DefaultConfig. The single promotion
// retry is deliberately not configurable; it is part of the promotion
// contract.
type Config struct {
	// ProximityMargin is the viewport expansion, in pixels, passed to
	// proximity observers so loading starts slightly before an element is
	// visible.
	ProximityMargin int
	// PreloadCeiling bounds how long a queued preload task waits for an
	// idle grant before running anyway.
	PreloadCeiling time.Duration
	// PreloadAttempts is the total number of fetch attempts per preload
	// task, including the first.
	PreloadAttempts int
	// FetchTimeout bounds a single image fetch.
	FetchTimeout time.Duration
	// UserAgent is sent with preload requests.
	UserAgent string
	// CacheMaxBytes bounds the in-memory warm cache. Zero means the
	// default; negative disables the memory tier.
	CacheMaxBytes int64
	// DiskCacheDir enables the disk tier when non-empty.
	DiskCacheDir string
	// DiskCacheMaxBytes bounds the disk tier.
	DiskCacheMaxBytes int64
	// RewriteTTL bounds entries in a RewriteCache.
	RewriteTTL time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ProximityMargin:   200,
		PreloadCeiling:    4 * time.Second,
		PreloadAttempts:   2,
		FetchTimeout:      8 * time.Second,
		UserAgent:         "adagio-preload/1.0",
		CacheMaxBytes:     32 << 20,
		DiskCacheMaxBytes: 100 << 20,
		RewriteTTL:        5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProximityMargin <= 0 {
		c.ProximityMargin = d.ProximityMargin
	}
	if c.PreloadCeiling <= 0 {
		c.PreloadCeiling = d.PreloadCeiling
	}
	if c.PreloadAttempts <= 0 {
		c.PreloadAttempts = d.PreloadAttempts
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.CacheMaxBytes == 0 {
		c.CacheMaxBytes = d.CacheMaxBytes
	}
	if c.DiskCacheMaxBytes == 0 {
		c.DiskCacheMaxBytes = d.DiskCacheMaxBytes
	}
	if c.RewriteTTL <= 0 {
		c.RewriteTTL = d.RewriteTTL
	}
	return c
}

// fileConfig is the on-disk schema. Durations are milliseconds and cache
// bounds are megabytes to keep hand-written files readable.
type fileConfig struct {
	ProximityMarginPx int    `toml:"proximity_margin_px"`
	PreloadCeilingMS  int    `toml:"preload_ceiling_ms"`
	PreloadAttempts   int    `toml:"preload_attempts"`
	FetchTimeoutMS    int    `toml:"fetch_timeout_ms"`
	UserAgent         string `toml:"user_agent"`
	CacheMaxMB        int    `toml:"cache_max_mb"`
	DiskCacheDir      string `toml:"disk_cache_dir"`
	DiskCacheMaxMB    int    `toml:"disk_cache_max_mb"`
	RewriteTTLMS      int    `toml:"rewrite_ttl_ms"`
}

// LoadConfig builds a Config from defaults, then the TOML file at path (if
// path is non-empty), then ADAGIO_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := toml.Unmarshal(raw, &fc); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		cfg = applyFile(cfg, fc)
	}
	return applyEnv(cfg), nil
}

func applyFile(cfg Config, fc fileConfig) Config {
	if fc.ProximityMarginPx > 0 {
		cfg.ProximityMargin = fc.ProximityMarginPx
	}
	if fc.PreloadCeilingMS > 0 {
		cfg.PreloadCeiling = time.Duration(fc.PreloadCeilingMS) * time.Millisecond
	}
	if fc.PreloadAttempts > 0 {
		cfg.PreloadAttempts = fc.PreloadAttempts
	}
	if fc.FetchTimeoutMS > 0 {
		cfg.FetchTimeout = time.Duration(fc.FetchTimeoutMS) * time.Millisecond
	}
	if fc.UserAgent != "" {
		cfg.UserAgent = fc.UserAgent
	}
	if fc.CacheMaxMB != 0 {
		cfg.CacheMaxBytes = int64(fc.CacheMaxMB) << 20
	}
	if fc.DiskCacheDir != "" {
		cfg.DiskCacheDir = fc.DiskCacheDir
	}
	if fc.DiskCacheMaxMB != 0 {
		cfg.DiskCacheMaxBytes = int64(fc.DiskCacheMaxMB) << 20
	}
	if fc.RewriteTTLMS > 0 {
		cfg.RewriteTTL = time.Duration(fc.RewriteTTLMS) * time.Millisecond
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if v, ok := envInt("ADAGIO_MARGIN_PX"); ok && v > 0 {
		cfg.ProximityMargin = v
	}
	if v, ok := envInt("ADAGIO_PRELOAD_CEILING_MS"); ok && v > 0 {
		cfg.PreloadCeiling = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("ADAGIO_PRELOAD_ATTEMPTS"); ok && v > 0 {
		cfg.PreloadAttempts = v
	}
	if v, ok := envInt("ADAGIO_FETCH_TIMEOUT_MS"); ok && v > 0 {
		cfg.FetchTimeout = time.Duration(v) * time.Millisecond
	}
	if s := os.Getenv("ADAGIO_USER_AGENT"); s != "" {
		cfg.UserAgent = s
	}
	if v, ok := envInt("ADAGIO_CACHE_MB"); ok {
		cfg.CacheMaxBytes = int64(v) << 20
	}
	if s := os.Getenv("ADAGIO_CACHE_DIR"); s != "" {
		cfg.DiskCacheDir = s
	}
	if v, ok := envInt("ADAGIO_DISK_CACHE_MB"); ok {
		cfg.DiskCacheMaxBytes = int64(v) << 20
	}
	if v, ok := envInt("ADAGIO_REWRITE_TTL_MS"); ok && v > 0 {
		cfg.RewriteTTL = time.Duration(v) * time.Millisecond
	}
	return cfg
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}
