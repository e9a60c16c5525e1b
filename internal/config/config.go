package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Paths       PathsConfig       `yaml:"paths"`
	BarcodeLink BarcodeLinkConfig `yaml:"barcode_link"`
	Inspection  InspectionConfig  `yaml:"inspection"`
	Session     SessionConfig     `yaml:"session"`
	Capability  CapabilityConfig  `yaml:"capability"`
}

// CapabilityConfig points at the external perception engines. Empty
// URLs select the built-in fallbacks (histogram features, no OCR).
type CapabilityConfig struct {
	OCRURL         string `yaml:"ocr_url"`
	MobileNetURL   string `yaml:"mobilenet_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ServerConfig struct {
	Port            int `yaml:"port"`
	ShutdownTimeout int `yaml:"shutdown_timeout_seconds"`
}

type PathsConfig struct {
	// SharedRoot is the server-local root of the session tree
	// (<shared_root>/sessions/<uuid>/{input,output}).
	SharedRoot string `yaml:"shared_root"`
	// ProductsRoot holds per-product ROI configs and golden libraries.
	ProductsRoot string `yaml:"products_root"`
	// ClientMountPrefix replaces SharedRoot in every path returned to
	// clients.
	ClientMountPrefix string `yaml:"client_mount_prefix"`
}

type BarcodeLinkConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
	// CacheBackend is "memory" or "redis". Empty disables the cache.
	CacheBackend    string `yaml:"cache_backend"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	RedisAddr       string `yaml:"redis_addr"`
}

type InspectionConfig struct {
	// DeadlineSeconds bounds one inspection end to end. Zero means no
	// deadline.
	DeadlineSeconds int `yaml:"deadline_seconds"`
	// WorkerPoolMax caps per-inspection parallelism. Zero means
	// hardware parallelism.
	WorkerPoolMax int `yaml:"worker_pool_max"`
}

type SessionConfig struct {
	TTLHours          int `yaml:"ttl_hours"`
	ReapIntervalHours int `yaml:"reap_interval_hours"`
}

// Load reads the YAML config file (optional), overlays environment
// variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30,
		},
		Paths: PathsConfig{
			ClientMountPrefix: "/mnt/visual-aoi-shared",
		},
		BarcodeLink: BarcodeLinkConfig{
			TimeoutSeconds:  3,
			Enabled:         true,
			CacheBackend:    "memory",
			CacheTTLSeconds: 300,
		},
		Session: SessionConfig{
			TTLHours:          7 * 24,
			ReapIntervalHours: 1,
		},
		Capability: CapabilityConfig{
			TimeoutSeconds: 10,
		},
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config file %s: %w", path, err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	overlayEnv(cfg)

	if cfg.Inspection.WorkerPoolMax <= 0 {
		cfg.Inspection.WorkerPoolMax = runtime.NumCPU()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	if v := os.Getenv("SHARED_ROOT"); v != "" {
		cfg.Paths.SharedRoot = v
	}
	if v := os.Getenv("PRODUCTS_ROOT"); v != "" {
		cfg.Paths.ProductsRoot = v
	}
	if v := os.Getenv("CLIENT_MOUNT_PREFIX"); v != "" {
		cfg.Paths.ClientMountPrefix = v
	}
	if v := os.Getenv("BARCODE_LINK_URL"); v != "" {
		cfg.BarcodeLink.URL = v
	}
	if v := os.Getenv("BARCODE_LINK_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BarcodeLink.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("BARCODE_LINK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.BarcodeLink.Enabled = b
		}
	}
	if v := os.Getenv("INSPECTION_DEADLINE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Inspection.DeadlineSeconds = n
		}
	}
	if v := os.Getenv("WORKER_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Inspection.WorkerPoolMax = n
		}
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.TTLHours = n
		}
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("LINK_CACHE_BACKEND"); v != "" {
		cfg.BarcodeLink.CacheBackend = v
	}
	if v := os.Getenv("LINK_CACHE_REDIS_ADDR"); v != "" {
		cfg.BarcodeLink.RedisAddr = v
	}
	if v := os.Getenv("OCR_URL"); v != "" {
		cfg.Capability.OCRURL = v
	}
	if v := os.Getenv("MOBILENET_URL"); v != "" {
		cfg.Capability.MobileNetURL = v
	}
}

func (c *Config) Validate() error {
	if c.Paths.SharedRoot == "" {
		return fmt.Errorf("config: paths.shared_root (SHARED_ROOT) is required")
	}
	if c.Paths.ProductsRoot == "" {
		return fmt.Errorf("config: paths.products_root (PRODUCTS_ROOT) is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.BarcodeLink.Enabled && c.BarcodeLink.URL != "" && c.BarcodeLink.TimeoutSeconds < 1 {
		return fmt.Errorf("config: barcode_link.timeout_seconds must be >= 1 (got %d)", c.BarcodeLink.TimeoutSeconds)
	}
	switch c.BarcodeLink.CacheBackend {
	case "", "memory":
	case "redis":
		if c.BarcodeLink.RedisAddr == "" {
			return fmt.Errorf("config: barcode_link.redis_addr is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("config: barcode_link.cache_backend must be memory or redis (got %q)", c.BarcodeLink.CacheBackend)
	}
	if c.Inspection.DeadlineSeconds < 0 {
		return fmt.Errorf("config: inspection.deadline_seconds must be >= 0 (got %d)", c.Inspection.DeadlineSeconds)
	}
	if c.Session.TTLHours <= 0 {
		return fmt.Errorf("config: session.ttl_hours must be > 0 (got %d)", c.Session.TTLHours)
	}
	if c.Session.ReapIntervalHours <= 0 {
		return fmt.Errorf("config: session.reap_interval_hours must be > 0 (got %d)", c.Session.ReapIntervalHours)
	}
	return nil
}

// LinkTimeout returns the linker RPC timeout as a duration.
func (c *Config) LinkTimeout() time.Duration {
	return time.Duration(c.BarcodeLink.TimeoutSeconds) * time.Second
}

// InspectionDeadline returns the per-inspection deadline, zero if none.
func (c *Config) InspectionDeadline() time.Duration {
	return time.Duration(c.Inspection.DeadlineSeconds) * time.Second
}

// SessionTTL returns the reaper cutoff age.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

// LinkCacheTTL returns the barcode link cache TTL.
func (c *Config) LinkCacheTTL() time.Duration {
	return time.Duration(c.BarcodeLink.CacheTTLSeconds) * time.Second
}

// CapabilityTimeout returns the perception-engine request timeout.
func (c *Config) CapabilityTimeout() time.Duration {
	return time.Duration(c.Capability.TimeoutSeconds) * time.Second
}
