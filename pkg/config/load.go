package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for tinyfeat.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Runner RunnerConfig `yaml:"runner"`
	Sync   SyncConfig   `yaml:"sync"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// StoreConfig configures the local snapshot store.
type StoreConfig struct {
	Path        string `yaml:"path"`
	InMemory    bool   `yaml:"in_memory"`
	MaxMemoryMB int64  `yaml:"max_memory_mb"`
}

// RunnerConfig configures the batch runner.
type RunnerConfig struct {
	Workers         int           `yaml:"workers"`
	CellTimeout     time.Duration `yaml:"cell_timeout"`
	CheckpointEvery int           `yaml:"checkpoint_every"`
	MasterMemoSize  int           `yaml:"master_memo_size"`
	Which           string        `yaml:"which"`
}

// SyncConfig configures upstream agglomeration.
type SyncConfig struct {
	RemotePath string `yaml:"remote_path"`
	Mode       string `yaml:"mode"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	MaxStorageGB int64  `yaml:"max_storage_gb"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with all default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:        DefaultDataDir,
			MaxMemoryMB: DefaultMaxMemoryMB,
		},
		Runner: RunnerConfig{
			Workers:         runtime.NumCPU(),
			CheckpointEvery: DefaultCheckpointEvery,
			MasterMemoSize:  DefaultMasterMemoSize,
			Which:           DefaultWhich,
		},
		Sync: SyncConfig{
			RemotePath: DefaultRemotePath,
			Mode:       DefaultSyncMode,
		},
		Server: ServerConfig{
			ListenAddr:   DefaultListenAddr,
			MaxStorageGB: DefaultMaxStorageGB,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file and TINYFEAT_*
// environment overrides, in that order. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TINYFEAT_DATA_DIR"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TINYFEAT_MAX_MEMORY_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TINYFEAT_MAX_MEMORY_MB %q: %w", v, err)
		}
		cfg.Store.MaxMemoryMB = n
	}
	if v := os.Getenv("TINYFEAT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TINYFEAT_WORKERS %q: %w", v, err)
		}
		cfg.Runner.Workers = n
	}
	if v := os.Getenv("TINYFEAT_CELL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TINYFEAT_CELL_TIMEOUT %q: %w", v, err)
		}
		cfg.Runner.CellTimeout = d
	}
	if v := os.Getenv("TINYFEAT_REMOTE_PATH"); v != "" {
		cfg.Sync.RemotePath = v
	}
	if v := os.Getenv("TINYFEAT_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("TINYFEAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TINYFEAT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Store.Path == "" && !c.Store.InMemory {
		return errors.New("store path is required unless store.in_memory is set")
	}
	if c.Runner.Workers < 1 {
		return fmt.Errorf("runner workers must be at least 1, got %d", c.Runner.Workers)
	}
	if c.Runner.CellTimeout < 0 {
		return fmt.Errorf("runner cell_timeout must not be negative, got %v", c.Runner.CellTimeout)
	}
	if c.Runner.CheckpointEvery < 0 {
		return fmt.Errorf("runner checkpoint_every must not be negative, got %d", c.Runner.CheckpointEvery)
	}
	switch c.Runner.Which {
	case "missing", "error", "both", "all":
	default:
		return fmt.Errorf("runner which must be missing, error, both or all, got %q", c.Runner.Which)
	}
	switch c.Sync.Mode {
	case "null", "error", "nullerror":
	default:
		return fmt.Errorf("sync mode must be null, error or nullerror, got %q", c.Sync.Mode)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	return nil
}
