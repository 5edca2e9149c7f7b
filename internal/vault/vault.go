// Package vault is the orchestrator of a single vault file. A Vault moves
// from uninitialized to locked on Initialize and from locked to unlocked on
// Unlock; item operations need the unlocked state.
//
// A Vault is not safe for concurrent use. Wrap it in a Guarded to share it.
package vault

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vault-cli/chamber/internal/crypto"
	"github.com/vault-cli/chamber/internal/store"
)

// Vault owns one storage handle and, once unlocked, the vault key.
type Vault struct {
	store    store.Store
	path     string
	vaultKey *crypto.KeyMaterial
	opts     options
	log      zerolog.Logger
}

// OpenOrCreate opens the vault file at path, creating an empty one when it
// does not exist. An empty path resolves to DefaultPath. The returned vault
// is locked.
func OpenOrCreate(path string, opts ...Option) (*Vault, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	return open(path, o)
}

func open(path string, o options) (*Vault, error) {
	driver, err := store.ResolveDriver(path, o.driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	st, err := store.Open(path, driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	v := &Vault{
		store: st,
		path:  path,
		opts:  o,
		log:   o.logger.With().Str("vault", path).Logger(),
	}
	v.log.Debug().Msg("vault opened")
	return v, nil
}

// Path returns the vault file path
func (v *Vault) Path() string {
	return v.path
}

// IsInitialized reports whether the vault has a meta record.
func (v *Vault) IsInitialized() (bool, error) {
	empty, err := v.store.IsMetaEmpty()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return !empty, nil
}

// IsUnlocked reports whether the vault key is resident.
func (v *Vault) IsUnlocked() bool {
	return v.vaultKey.Alive()
}

// Initialize creates the meta record protected by password. It is a no-op on
// an initialized vault. The vault stays locked afterwards.
func (v *Vault) Initialize(password string) error {
	initialized, err := v.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		v.log.Debug().Msg("vault already initialized")
		return nil
	}

	vaultKey := crypto.GenerateKeyMaterial()
	defer vaultKey.Destroy()

	if err := v.wrapAndStore(password, vaultKey); err != nil {
		return err
	}

	v.log.Info().Msg("vault initialized")
	return nil
}

// Unlock derives the master key from password and loads the vault key.
// Every failure after the meta record is found reports ErrInvalidMasterKey.
func (v *Vault) Unlock(password string) error {
	meta, err := v.readMeta()
	if err != nil {
		return err
	}

	key, err := recoverVaultKey(meta, password)
	if err != nil {
		v.log.Warn().Msg("unlock failed")
		return ErrInvalidMasterKey
	}

	v.vaultKey.Destroy()
	v.vaultKey = key
	v.log.Info().Msg("vault unlocked")
	return nil
}

// ChangeMasterKey re-wraps the existing vault key under newPassword with
// freshly generated KDF parameters. Items are not re-encrypted. An unlocked
// vault stays unlocked.
func (v *Vault) ChangeMasterKey(currentPassword, newPassword string) error {
	meta, err := v.readMeta()
	if err != nil {
		return err
	}

	key, err := recoverVaultKey(meta, currentPassword)
	if err != nil {
		v.log.Warn().Msg("master key change rejected")
		return fmt.Errorf("invalid current master key: %w", ErrInvalidMasterKey)
	}

	if err := v.wrapAndStore(newPassword, key); err != nil {
		key.Destroy()
		return err
	}

	if v.IsUnlocked() {
		v.vaultKey.Destroy()
		v.vaultKey = key
	} else {
		key.Destroy()
	}

	v.log.Info().Msg("master key changed")
	return nil
}

// Duplicate opens a second handle to the same file. The new handle is
// always locked; key material is never copied.
func (v *Vault) Duplicate() (*Vault, error) {
	return open(v.path, v.opts)
}

// Close drops the vault key and closes the storage handle.
func (v *Vault) Close() error {
	v.vaultKey.Destroy()
	v.vaultKey = nil

	if err := v.store.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func (v *Vault) readMeta() (*store.Meta, error) {
	meta, err := v.store.ReadMeta()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if meta == nil {
		return nil, ErrNotInitialized
	}
	return meta, nil
}

// wrapAndStore derives a master key from password with new KDF parameters,
// wraps vaultKey under it and replaces the meta record.
func (v *Vault) wrapAndStore(password string, vaultKey *crypto.KeyMaterial) error {
	params, err := v.opts.kdfParams()
	if err != nil {
		return fmt.Errorf("failed to generate KDF params: %w", err)
	}

	master, err := crypto.DeriveKey(password, params)
	if err != nil {
		return fmt.Errorf("failed to derive master key: %w", err)
	}
	defer master.Destroy()

	wrapped, verifier, err := crypto.WrapVaultKey(master, vaultKey)
	if err != nil {
		return err
	}

	kdfJSON, err := params.Encode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	blob, err := wrapped.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	if err := v.store.WriteMeta(&store.Meta{
		KdfParams:  kdfJSON,
		WrappedKey: blob,
		Verifier:   verifier,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func recoverVaultKey(meta *store.Meta, password string) (*crypto.KeyMaterial, error) {
	params, err := crypto.DecodeKdfParams(meta.KdfParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	var wrapped crypto.WrappedVaultKey
	if err := wrapped.UnmarshalBinary(meta.WrappedKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	master, err := crypto.DeriveKey(password, params)
	if err != nil {
		return nil, err
	}
	defer master.Destroy()

	return crypto.UnwrapVaultKey(master, wrapped, meta.Verifier)
}

func (v *Vault) requireUnlocked() error {
	if !v.IsUnlocked() {
		return ErrLocked
	}
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrItemNotFound
	case errors.Is(err, store.ErrDuplicateName):
		return fmt.Errorf("%w: %w", ErrDuplicateName, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}
