// Package config manages multimaya CLI configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the multimaya CLI configuration
type Config struct {
	Python  PythonConfig  `mapstructure:"python"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// PythonConfig selects the interpreter
type PythonConfig struct {
	// Executable is the interpreter path or a name looked up on PATH.
	// Empty means probe python3, then python.
	Executable     string   `mapstructure:"executable"`
	PoolExecutable string   `mapstructure:"pool_executable"`
	SearchPath     []string `mapstructure:"search_path"`

	// Env holds KEY=VALUE entries added to the child environment. A list
	// keeps key case, which viper folds for maps.
	Env []string `mapstructure:"env"`
}

// EnvMap returns Env as a map. Entries without "=" are ignored.
func (p PythonConfig) EnvMap() map[string]string {
	m := make(map[string]string, len(p.Env))
	for _, kv := range p.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}

// RunnerConfig holds launch defaults
type RunnerConfig struct {
	ArtifactDir string        `mapstructure:"artifact_dir"`
	Serializer  string        `mapstructure:"serializer"`
	KeepScripts bool          `mapstructure:"keep_scripts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// Load reads path, or config.yaml from $HOME/.multimaya and the working
// directory when path is empty. A missing default file is not an error.
// MULTIMAYA_ environment variables override file values, e.g.
// MULTIMAYA_PYTHON_EXECUTABLE for python.executable.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MULTIMAYA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("python.executable", "")
	v.SetDefault("python.pool_executable", "")
	v.SetDefault("python.search_path", []string{})
	v.SetDefault("python.env", []string{})
	v.SetDefault("runner.artifact_dir", "")
	v.SetDefault("runner.serializer", "json")
	v.SetDefault("runner.keep_scripts", false)
	v.SetDefault("runner.timeout", time.Duration(0))
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.namespace", "multimaya")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check
func (c *Config) Validate() error {
	switch c.Runner.Serializer {
	case "json", "msgpack":
	default:
		return fmt.Errorf("runner.serializer: unknown serializer %q", c.Runner.Serializer)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: must be json or text, got %q", c.Logging.Format)
	}
	if c.Runner.Timeout < 0 {
		return fmt.Errorf("runner.timeout: must not be negative")
	}
	return nil
}

// Dir returns ~/.multimaya
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".multimaya")
}
