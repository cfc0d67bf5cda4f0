// Package config loads the driver's TOML configuration file and overlays
// the closed set of environment variables from spec §6, the same
// defaults-then-overlay shape the teacher uses for its server.toml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Network     NetworkConfig     `toml:"network"`
	Session     SessionConfig     `toml:"session"`
	Isolate     IsolateConfig     `toml:"isolate"`
	Persistence PersistenceConfig `toml:"persistence"`
	Logging     LoggingConfig     `toml:"logging"`
	AI          AIConfig          `toml:"ai"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	StartTime int64  // set at boot, not from config/env
}

type NetworkConfig struct {
	Host              string        `toml:"host"`
	Port              int           `toml:"port"`
	MaxPayloadBytes    int          `toml:"max_payload_bytes"`
	DeflateThreshold   int          `toml:"deflate_threshold_bytes"`
	SoftWatermark      int          `toml:"soft_watermark_bytes"`
	HardWatermark      int          `toml:"hard_watermark_bytes"`
	CriticalWatermark  int          `toml:"critical_watermark_bytes"`
	HeartbeatInterval  time.Duration `toml:"heartbeat_interval"`
	MaxMissedPongs     int          `toml:"max_missed_pongs"`
	TickPeriod         time.Duration `toml:"tick_period"`
}

type SessionConfig struct {
	Secret        string        `toml:"secret"`
	TTL           time.Duration `toml:"ttl"`
	MaxActive     int           `toml:"max_active"`
}

type IsolateConfig struct {
	PoolSize    int           `toml:"pool_size"`
	MemoryMB    int           `toml:"memory_mb"`
	ScriptTimeout time.Duration `toml:"script_timeout"`
}

type PersistenceConfig struct {
	Adapter         string        `toml:"adapter"` // "filesystem" or "remote"
	DataPath        string        `toml:"data_path"`
	RemoteStoreURL  string        `toml:"remote_store_url"`
	RemoteStoreKey  string        `toml:"remote_store_key"`
	AutosaveInterval time.Duration `toml:"autosave_interval"`
	ShutdownDeadline time.Duration `toml:"shutdown_deadline"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type AIConfig struct {
	APIKey string `toml:"api_key"`
}

// Load reads the TOML file at path (starting from hard defaults), then
// overlays the closed set of environment variables defined in spec §6.
// Env wins over file, matching the teacher's L1JGO_CONFIG-overrides-path
// precedent extended to every documented variable.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Name: "mudforge-driver", Version: "dev"},
		Network: NetworkConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			MaxPayloadBytes:   1 << 20,
			DeflateThreshold:  128,
			SoftWatermark:     64 << 10,
			HardWatermark:     256 << 10,
			CriticalWatermark: 512 << 10,
			HeartbeatInterval: 10 * time.Second,
			MaxMissedPongs:    18,
			TickPeriod:        time.Second,
		},
		Session: SessionConfig{
			Secret:    "change-me-in-production",
			TTL:       15 * time.Minute,
			MaxActive: 10_000,
		},
		Isolate: IsolateConfig{
			PoolSize:      4,
			MemoryMB:      128,
			ScriptTimeout: 5 * time.Second,
		},
		Persistence: PersistenceConfig{
			Adapter:          "filesystem",
			DataPath:         "data",
			AutosaveInterval: 5 * time.Minute,
			ShutdownDeadline: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	intv := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	durMS := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(n) * time.Millisecond
			}
		}
	}

	str("HOST", &cfg.Network.Host)
	intv("PORT", &cfg.Network.Port)
	str("DATA_PATH", &cfg.Persistence.DataPath)
	str("PERSISTENCE_ADAPTER", &cfg.Persistence.Adapter)
	str("REMOTE_STORE_URL", &cfg.Persistence.RemoteStoreURL)
	str("REMOTE_STORE_KEY", &cfg.Persistence.RemoteStoreKey)
	str("AI_API_KEY", &cfg.AI.APIKey)
	str("SESSION_SECRET", &cfg.Session.Secret)
	durMS("SESSION_TTL_MS", &cfg.Session.TTL)
	durMS("HEARTBEAT_INTERVAL_MS", &cfg.Network.HeartbeatInterval)
	intv("MAX_MISSED_PONGS", &cfg.Network.MaxMissedPongs)
	intv("ISOLATE_POOL_SIZE", &cfg.Isolate.PoolSize)
	intv("ISOLATE_MEMORY_MB", &cfg.Isolate.MemoryMB)
	durMS("SCRIPT_TIMEOUT_MS", &cfg.Isolate.ScriptTimeout)
	durMS("TICK_PERIOD_MS", &cfg.Network.TickPeriod)
	durMS("AUTOSAVE_INTERVAL_MS", &cfg.Persistence.AutosaveInterval)
	durMS("SHUTDOWN_DEADLINE_MS", &cfg.Persistence.ShutdownDeadline)
}
