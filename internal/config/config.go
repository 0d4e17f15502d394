// Package config loads buildledger.toml.
//
// A missing file is not an error: every key has a default, and any key set in
// the file overrides only that key.
package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// FileName is the config file looked up in the working directory.
const FileName = "buildledger.toml"

const (
	DefaultLogLevel  = "info"
	DefaultTracePath = ".buildledger/trace/operations.trace"
	DefaultCacheDir  = ".buildledger/cache"
	DefaultStateDir  = ".buildledger/state"
	DefaultTimeout   = 30 * time.Second
)

type Config struct {
	Log       LogConfig
	Trace     TraceConfig
	Cache     CacheConfig
	Execution ExecutionConfig
	Network   NetworkConfig
}

type LogConfig struct {
	Level string
}

type TraceConfig struct {
	Enabled bool
	Path    string
}

type CacheConfig struct {
	Dir string
}

type ExecutionConfig struct {
	Workers  int
	StateDir string
}

type NetworkConfig struct {
	Timeout time.Duration
}

// Error reports a config file that exists but cannot be used.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: DefaultLogLevel},
		Trace: TraceConfig{Path: DefaultTracePath},
		Cache: CacheConfig{Dir: DefaultCacheDir},
		Execution: ExecutionConfig{
			Workers:  runtime.NumCPU(),
			StateDir: DefaultStateDir,
		},
		Network: NetworkConfig{Timeout: DefaultTimeout},
	}
}

// fileConfig mirrors the TOML layout. Pointers distinguish "unset" from a
// zero value so that `enabled = false` can override a default.
type fileConfig struct {
	Log struct {
		Level *string `toml:"level"`
	} `toml:"log"`
	Trace struct {
		Enabled *bool   `toml:"enabled"`
		Path    *string `toml:"path"`
	} `toml:"trace"`
	Cache struct {
		Dir *string `toml:"dir"`
	} `toml:"cache"`
	Execution struct {
		Workers  *int    `toml:"workers"`
		StateDir *string `toml:"state_dir"`
	} `toml:"execution"`
	Network struct {
		Timeout *string `toml:"timeout"`
	} `toml:"network"`
}

// Load reads path and merges it over Default. A missing file yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, &Error{Path: path, Err: err}
	}
	if err := Parse(data, &cfg); err != nil {
		return Default(), &Error{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse decodes TOML data and applies every key it sets onto cfg.
func Parse(data []byte, cfg *Config) error {
	var raw fileConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return errors.Errorf("unknown keys:\n%s", strict.String())
		}
		return err
	}

	if raw.Log.Level != nil {
		level := strings.ToLower(strings.TrimSpace(*raw.Log.Level))
		switch level {
		case "debug", "info", "warn", "warning", "error":
			cfg.Log.Level = level
		default:
			return errors.Errorf("[log] level: unsupported value %q (expected debug|info|warn|error)", *raw.Log.Level)
		}
	}
	if raw.Trace.Enabled != nil {
		cfg.Trace.Enabled = *raw.Trace.Enabled
	}
	if raw.Trace.Path != nil {
		if strings.TrimSpace(*raw.Trace.Path) == "" {
			return errors.New("[trace] path must not be empty")
		}
		cfg.Trace.Path = *raw.Trace.Path
	}
	if raw.Cache.Dir != nil {
		if strings.TrimSpace(*raw.Cache.Dir) == "" {
			return errors.New("[cache] dir must not be empty")
		}
		cfg.Cache.Dir = *raw.Cache.Dir
	}
	if raw.Execution.Workers != nil {
		if *raw.Execution.Workers < 1 {
			return errors.Errorf("[execution] workers must be at least 1 (got %d)", *raw.Execution.Workers)
		}
		cfg.Execution.Workers = *raw.Execution.Workers
	}
	if raw.Execution.StateDir != nil {
		if strings.TrimSpace(*raw.Execution.StateDir) == "" {
			return errors.New("[execution] state_dir must not be empty")
		}
		cfg.Execution.StateDir = *raw.Execution.StateDir
	}
	if raw.Network.Timeout != nil {
		d, err := time.ParseDuration(*raw.Network.Timeout)
		if err != nil {
			return errors.Wrap(err, "[network] timeout")
		}
		if d <= 0 {
			return errors.Errorf("[network] timeout must be positive (got %s)", d)
		}
		cfg.Network.Timeout = d
	}
	return nil
}
