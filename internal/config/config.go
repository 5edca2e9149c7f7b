// Package config handles the configuration management for chamber.
// It provides functionality to load, save, and validate the YAML config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/vault-cli/chamber/internal/autolock"
	"github.com/vault-cli/chamber/internal/crypto"
	"github.com/vault-cli/chamber/internal/registry"
	"github.com/vault-cli/chamber/internal/store"
	"github.com/vault-cli/chamber/internal/vault"
)

// EnvConfigPath overrides the default config file location
const EnvConfigPath = "CHAMBER_CONFIG"

const (
	appDirName     = "chamber"
	configFileName = "config.yaml"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the chamber configuration
type Config struct {
	VaultPath     string           `yaml:"vault_path"`
	RegistryPath  string           `yaml:"registry_path"`
	StorageDriver string           `yaml:"storage_driver"`
	KDF           KDFConfig        `yaml:"kdf"`
	AutoLock      autolock.Config  `yaml:"auto_lock"`
	ClipboardTTL  time.Duration    `yaml:"clipboard_ttl"`
	LogLevel      string           `yaml:"log_level"`
	UnlockRate    UnlockRateConfig `yaml:"unlock_rate"`
}

// KDFConfig represents Argon2id costs for new vaults and password changes
type KDFConfig struct {
	Memory      uint32 `yaml:"memory"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint32 `yaml:"parallelism"`
}

// UnlockRateConfig throttles unlock attempts per vault
type UnlockRateConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DefaultDir returns <user config dir>/chamber.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, appDirName), nil
}

// DefaultPath returns the config file location, honoring CHAMBER_CONFIG.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	vaultPath, _ := vault.DefaultPath()
	var registryPath string
	if dir, err := DefaultDir(); err == nil {
		registryPath = filepath.Join(dir, registry.DefaultFileName)
	}

	return &Config{
		VaultPath:     vaultPath,
		RegistryPath:  registryPath,
		StorageDriver: store.DriverSQLite,
		KDF: KDFConfig{
			Memory:      crypto.DefaultMemoryKiB,
			Iterations:  crypto.DefaultTimeCost,
			Parallelism: crypto.DefaultParallelism,
		},
		AutoLock:     autolock.DefaultConfig(),
		ClipboardTTL: 30 * time.Second,
		LogLevel:     "warn",
		UnlockRate: UnlockRateConfig{
			PerSecond: float64(registry.DefaultUnlockRate),
			Burst:     registry.DefaultUnlockBurst,
		},
	}
}

// LoadConfig loads configuration from file. An empty path resolves to
// DefaultPath; a missing file is created with the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		var err error
		if configPath, err = DefaultPath(); err != nil {
			return cfg, err
		}
	}
	cleanPath := filepath.Clean(configPath)

	data, err := os.ReadFile(cleanPath)
	if errors.Is(err, os.ErrNotExist) {
		if err := SaveConfig(cfg, cleanPath); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := store.AtomicWriteFile(cleanPath, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the rest of the program cannot use.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case store.DriverSQLite, store.DriverBolt:
	default:
		return fmt.Errorf("%w: storage_driver must be %q or %q, got %q",
			ErrInvalidConfig, store.DriverSQLite, store.DriverBolt, c.StorageDriver)
	}

	probe := crypto.KdfParams{
		Salt:        make([]byte, crypto.SaltSize),
		MemoryKiB:   c.KDF.Memory,
		TimeCost:    c.KDF.Iterations,
		Parallelism: c.KDF.Parallelism,
	}
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("%w: kdf: %w", ErrInvalidConfig, err)
	}

	if c.AutoLock.InactivityTimeout < 0 || c.AutoLock.CheckInterval < 0 {
		return fmt.Errorf("%w: auto_lock durations must not be negative", ErrInvalidConfig)
	}
	if c.ClipboardTTL < 0 {
		return fmt.Errorf("%w: clipboard_ttl must not be negative", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}
	if c.UnlockRate.PerSecond <= 0 || c.UnlockRate.Burst < 1 {
		return fmt.Errorf("%w: unlock_rate needs a positive rate and a burst of at least 1", ErrInvalidConfig)
	}
	return nil
}

// VaultOptions translates the config into vault options.
func (c *Config) VaultOptions(logger zerolog.Logger) []vault.Option {
	return []vault.Option{
		vault.WithDriver(c.StorageDriver),
		vault.WithKdfCost(c.KDF.Memory, c.KDF.Iterations, c.KDF.Parallelism),
		vault.WithLogger(logger),
	}
}

// ManagerOptions translates the config into registry manager options.
func (c *Config) ManagerOptions(logger zerolog.Logger) []registry.ManagerOption {
	return []registry.ManagerOption{
		registry.WithVaultOptions(c.VaultOptions(logger)...),
		registry.WithUnlockRate(rate.Limit(c.UnlockRate.PerSecond), c.UnlockRate.Burst),
		registry.WithManagerLogger(logger),
	}
}
