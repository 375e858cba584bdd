// Package config provides YAML-based configuration loading for sgeq.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name used in log fields
	AppName string `mapstructure:"app_name"`

	// Scratch controls workspace placement and retention
	Scratch ScratchConfig `mapstructure:"scratch"`

	// Job holds per-job submission defaults
	Job JobConfig `mapstructure:"job"`

	// Pool holds fan-out settings
	Pool PoolConfig `mapstructure:"pool"`

	// Poll holds status-poll pacing
	Poll PollConfig `mapstructure:"poll"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`
}

// ScratchConfig controls the per-job scratch directories.
type ScratchConfig struct {
	// Dir is the base directory workspaces are created under
	Dir string `mapstructure:"dir"`
	// Keep leaves workspaces in place after runs (debugging aid)
	Keep bool `mapstructure:"keep"`
}

// JobConfig holds the default resource request and submission settings.
type JobConfig struct {
	// Env is the environment identifier activated by the generated script
	Env string `mapstructure:"env"`
	// ParallelEnv is the scheduler parallel environment (-pe)
	ParallelEnv string `mapstructure:"parallel_env"`
	// Threads per job
	Threads int `mapstructure:"threads"`
	// Time is wall time: seconds or HH:MM:SS
	Time string `mapstructure:"time"`
	// Memory per thread: gigabytes with optional G/M suffix
	Memory string `mapstructure:"memory"`
	// GPU requests a GPU slot
	GPU bool `mapstructure:"gpu"`
	// MaxAttempts bounds submit-and-poll cycles per job
	MaxAttempts int `mapstructure:"max_attempts"`
	// Runner is the executor binary path on the remote side; empty means
	// the current binary's own path
	Runner string `mapstructure:"runner"`
}

// PoolConfig controls concurrent fan-out.
type PoolConfig struct {
	// Size is the maximum number of concurrently running jobs
	Size int `mapstructure:"size"`
}

// PollConfig controls the status-poll backoff.
type PollConfig struct {
	InitialMS      int     `mapstructure:"initial_ms"`
	Factor         float64 `mapstructure:"factor"`
	CapMS          int     `mapstructure:"cap_ms"`
	UnknownPauseMS int     `mapstructure:"unknown_pause_ms"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "sgeq",
		Scratch: ScratchConfig{Dir: os.TempDir()},
		Job: JobConfig{
			Env:         "snakemake",
			ParallelEnv: "parallel",
			Threads:     1,
			Time:        "00:59:00",
			Memory:      "6G",
			MaxAttempts: 3,
		},
		Pool: PoolConfig{Size: 1},
		Poll: PollConfig{
			InitialMS:      2000,
			Factor:         1.2,
			CapMS:          60000,
			UnknownPauseMS: 5000,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides.
// Environment variables use the prefix SGEQ and `.`/`-` are replaced with
// `_`. Example: SGEQ_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SGEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("scratch.dir", cfg.Scratch.Dir)
	v.SetDefault("scratch.keep", cfg.Scratch.Keep)
	v.SetDefault("job.env", cfg.Job.Env)
	v.SetDefault("job.parallel_env", cfg.Job.ParallelEnv)
	v.SetDefault("job.threads", cfg.Job.Threads)
	v.SetDefault("job.time", cfg.Job.Time)
	v.SetDefault("job.memory", cfg.Job.Memory)
	v.SetDefault("job.gpu", cfg.Job.GPU)
	v.SetDefault("job.max_attempts", cfg.Job.MaxAttempts)
	v.SetDefault("job.runner", cfg.Job.Runner)
	v.SetDefault("pool.size", cfg.Pool.Size)
	v.SetDefault("poll.initial_ms", cfg.Poll.InitialMS)
	v.SetDefault("poll.factor", cfg.Poll.Factor)
	v.SetDefault("poll.cap_ms", cfg.Poll.CapMS)
	v.SetDefault("poll.unknown_pause_ms", cfg.Poll.UnknownPauseMS)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("SGEQ_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sgeq")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sgeq"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if strings.TrimSpace(c.Scratch.Dir) == "" {
		c.Scratch.Dir = os.TempDir()
	}
	if c.Job.MaxAttempts < 1 {
		return fmt.Errorf("job.max_attempts must be positive, got %d", c.Job.MaxAttempts)
	}
	if c.Pool.Size < 1 {
		return fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size)
	}
	if c.Poll.InitialMS < 1 || c.Poll.CapMS < c.Poll.InitialMS {
		return fmt.Errorf("invalid poll pacing: initial_ms=%d cap_ms=%d", c.Poll.InitialMS, c.Poll.CapMS)
	}
	if c.Poll.Factor < 1 {
		return fmt.Errorf("poll.factor must be >= 1, got %v", c.Poll.Factor)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
