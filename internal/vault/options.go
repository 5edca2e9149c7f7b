package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/vault-cli/chamber/internal/crypto"
)

const (
	appDirName       = "chamber"
	defaultVaultFile = "vault.sqlite3"
)

// DefaultPath returns the vault location used when no path is given:
// <user config dir>/chamber/vault.sqlite3.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, defaultVaultFile), nil
}

type options struct {
	driver    string
	kdfParams func() (crypto.KdfParams, error)
	logger    zerolog.Logger
}

func defaultOptions() options {
	return options{
		kdfParams: crypto.DefaultKdfParams,
		logger:    zerolog.Nop(),
	}
}

// Option configures a Vault.
type Option func(*options)

// WithDriver selects the storage driver for new vault files. Existing files
// are always opened with the driver matching their format when empty.
func WithDriver(driver string) Option {
	return func(o *options) {
		o.driver = driver
	}
}

// WithKdfParams overrides how KDF parameters are generated on initialize and
// on master key changes. The function must return a fresh salt every call.
func WithKdfParams(fn func() (crypto.KdfParams, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.kdfParams = fn
		}
	}
}

// WithKdfCost generates parameters with the given Argon2id costs.
func WithKdfCost(memoryKiB, timeCost, parallelism uint32) Option {
	return WithKdfParams(func() (crypto.KdfParams, error) {
		return crypto.NewKdfParams(memoryKiB, timeCost, parallelism)
	})
}

// WithLogger sets the logger for vault lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
