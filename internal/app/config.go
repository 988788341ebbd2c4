package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the effective guardrails configuration, resolved once per
// invocation and immutable afterward. Override order: built-in defaults →
// config file → GUARDRAILS_* environment variables → CLI flags.
type Config struct {
	CircuitBreaker CircuitBreakerConfig
	Logging        LoggingConfig
	StateFile      string
}

// CircuitBreakerConfig holds the breaker thresholds.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	CooldownSeconds  int
	SuccessThreshold int
	Exclude          []string
}

// Cooldown returns cooldown_seconds as a duration.
func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// LoggingConfig controls the slog default logger. File empty means stderr.
type LoggingConfig struct {
	File   string
	Level  string
	Format string
}

const (
	defaultFailureThreshold = 3
	defaultCooldownSeconds  = 300
	defaultSuccessThreshold = 2
)

// DefaultConfig returns the built-in defaults applied before any file or
// environment overrides.
func DefaultConfig() Config {
	return Config{
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: defaultFailureThreshold,
			CooldownSeconds:  defaultCooldownSeconds,
			SuccessThreshold: defaultSuccessThreshold,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// fileConfig mirrors Config with pointer fields so absent YAML keys fall
// back to defaults instead of zeroing them out.
type fileConfig struct {
	CircuitBreaker *fileCircuitBreaker `yaml:"circuit_breaker"`
	Logging        *fileLogging        `yaml:"logging"`
	StateFile      *string             `yaml:"state_file"`
}

type fileCircuitBreaker struct {
	Enabled          *bool    `yaml:"enabled"`
	FailureThreshold *int     `yaml:"failure_threshold"`
	CooldownSeconds  *int     `yaml:"cooldown_seconds"`
	SuccessThreshold *int     `yaml:"success_threshold"`
	Exclude          []string `yaml:"exclude"`
}

type fileLogging struct {
	File   *string `yaml:"file"`
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

// LoadConfig resolves the effective configuration.
//
// path, when non-empty, names an explicit config file. Otherwise the lookup
// order is (first found wins):
// 1) ~/.config/guardrails/config.yaml
// 2) /etc/guardrails/config.yaml
// 3) ./config.yaml
//
// A missing or malformed config file is not an error: defaults apply and a
// warning is logged for the malformed case. Invalid threshold values fail
// loudly because they indicate operator misconfiguration.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	candidates := []string{path}
	if path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to determine config directory: %w", err)
		}
		candidates = []string{
			filepath.Join(dir, "config.yaml"),
			filepath.Join(string(os.PathSeparator), "etc", "guardrails", "config.yaml"),
			"config.yaml",
		}
	}

	for _, candidate := range candidates {
		fc, err := loadConfigFile(candidate)
		if err == nil {
			mergeFileConfig(&cfg, fc)
			break
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		// Malformed file: fall back to defaults, but tell the operator.
		slog.Default().Warn("config file unusable, using defaults", "path", candidate, "error", err)
		break
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if override := getStateFileOverride(); override != "" {
		cfg.StateFile = override
	}

	if err := expandConfigPaths(&cfg); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadConfigFile(path string) (fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

func mergeFileConfig(cfg *Config, fc fileConfig) {
	if cb := fc.CircuitBreaker; cb != nil {
		if cb.Enabled != nil {
			cfg.CircuitBreaker.Enabled = *cb.Enabled
		}
		if cb.FailureThreshold != nil {
			cfg.CircuitBreaker.FailureThreshold = *cb.FailureThreshold
		}
		if cb.CooldownSeconds != nil {
			cfg.CircuitBreaker.CooldownSeconds = *cb.CooldownSeconds
		}
		if cb.SuccessThreshold != nil {
			cfg.CircuitBreaker.SuccessThreshold = *cb.SuccessThreshold
		}
		if cb.Exclude != nil {
			cfg.CircuitBreaker.Exclude = cb.Exclude
		}
	}
	if lg := fc.Logging; lg != nil {
		if lg.File != nil {
			cfg.Logging.File = *lg.File
		}
		if lg.Level != nil {
			cfg.Logging.Level = *lg.Level
		}
		if lg.Format != nil {
			cfg.Logging.Format = *lg.Format
		}
	}
	if fc.StateFile != nil {
		cfg.StateFile = *fc.StateFile
	}
}

// Environment overrides follow GUARDRAILS_<SECTION>_<KEY>.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("GUARDRAILS_CIRCUIT_BREAKER_ENABLED"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GUARDRAILS_CIRCUIT_BREAKER_ENABLED=%q: %w", v, err)
		}
		cfg.CircuitBreaker.Enabled = parsed
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{"GUARDRAILS_CIRCUIT_BREAKER_FAILURE_THRESHOLD", &cfg.CircuitBreaker.FailureThreshold},
		{"GUARDRAILS_CIRCUIT_BREAKER_COOLDOWN_SECONDS", &cfg.CircuitBreaker.CooldownSeconds},
		{"GUARDRAILS_CIRCUIT_BREAKER_SUCCESS_THRESHOLD", &cfg.CircuitBreaker.SuccessThreshold},
	}
	for _, iv := range intVars {
		v, ok := os.LookupEnv(iv.name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", iv.name, v, err)
		}
		*iv.dst = parsed
	}

	if v, ok := os.LookupEnv("GUARDRAILS_CIRCUIT_BREAKER_EXCLUDE"); ok {
		var exclude []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				exclude = append(exclude, part)
			}
		}
		cfg.CircuitBreaker.Exclude = exclude
	}

	stringVars := []struct {
		name string
		dst  *string
	}{
		{"GUARDRAILS_LOGGING_FILE", &cfg.Logging.File},
		{"GUARDRAILS_LOGGING_LEVEL", &cfg.Logging.Level},
		{"GUARDRAILS_LOGGING_FORMAT", &cfg.Logging.Format},
		{"GUARDRAILS_STATE_FILE", &cfg.StateFile},
	}
	for _, sv := range stringVars {
		if v, ok := os.LookupEnv(sv.name); ok {
			*sv.dst = v
		}
	}

	return nil
}

func expandConfigPaths(cfg *Config) error {
	if cfg.StateFile == "" {
		dir, err := ConfigDir()
		if err != nil {
			return fmt.Errorf("failed to determine config directory: %w", err)
		}
		cfg.StateFile = filepath.Join(dir, "state.json")
	}

	expanded, err := ExpandPath(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("state_file: %w", err)
	}
	cfg.StateFile = expanded

	if cfg.Logging.File != "" {
		expanded, err := ExpandPath(cfg.Logging.File)
		if err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
		cfg.Logging.File = expanded
	}
	return nil
}

func validateConfig(cfg Config) error {
	cb := cfg.CircuitBreaker
	if cb.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be > 0, got %d", cb.FailureThreshold)
	}
	if cb.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold must be > 0, got %d", cb.SuccessThreshold)
	}
	if cb.CooldownSeconds < 0 {
		return fmt.Errorf("circuit_breaker.cooldown_seconds must be >= 0, got %d", cb.CooldownSeconds)
	}
	return nil
}
