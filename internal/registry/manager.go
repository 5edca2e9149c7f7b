package registry

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/vault"
)

var (
	// ErrVaultNotOpen is returned when a vault has not been unlocked in this manager
	ErrVaultNotOpen = errors.New("vault is not unlocked")
	// ErrTooManyAttempts is returned when unlock attempts for a vault are throttled
	ErrTooManyAttempts = errors.New("too many unlock attempts, try again later")
)

// Default unlock throttling: a burst of 5 attempts, then one per second.
const (
	DefaultUnlockRate  = rate.Limit(1)
	DefaultUnlockBurst = 5
)

// Manager combines the registry with the set of vaults unlocked in this
// process. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	registry  *Registry
	open      map[string]*vault.Vault
	limits    *attemptLimiter
	vaultOpts []vault.Option
	log       zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithVaultOptions passes options to every vault the manager opens.
func WithVaultOptions(opts ...vault.Option) ManagerOption {
	return func(m *Manager) {
		m.vaultOpts = append(m.vaultOpts, opts...)
	}
}

// WithUnlockRate sets the per-vault unlock attempt rate.
func WithUnlockRate(limit rate.Limit, burst int) ManagerOption {
	return func(m *Manager) {
		m.limits = newAttemptLimiter(limit, burst)
	}
}

// WithManagerLogger sets the logger for manager events.
func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = logger
	}
}

// NewManager wraps reg. The manager owns the vaults it opens.
func NewManager(reg *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: reg,
		open:     make(map[string]*vault.Vault),
		limits:   newAttemptLimiter(DefaultUnlockRate, DefaultUnlockBurst),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateVault registers a vault and initializes its file with password.
// The catalog entry is rolled back if initialization fails.
func (m *Manager) CreateVault(name string, opts CreateOptions, password string) (*domain.VaultInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := m.registry.CreateVault(name, opts)
	if err != nil {
		return nil, err
	}

	if err := m.initializeFile(info.Path, password); err != nil {
		if rbErr := m.registry.remove(info.ID); rbErr != nil {
			m.log.Warn().Err(rbErr).Str("vault_id", info.ID).Msg("failed to roll back vault registration")
		}
		return nil, err
	}
	return info, nil
}

func (m *Manager) initializeFile(path, password string) error {
	v, err := vault.OpenOrCreate(path, m.vaultOpts...)
	if err != nil {
		return err
	}
	defer v.Close()

	if err := v.Initialize(password); err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}
	return nil
}

// OpenVault unlocks a registered vault and keeps it open. Attempts are
// throttled per vault.
func (m *Manager) OpenVault(id, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if v, ok := m.open[id]; ok {
		if v.IsUnlocked() {
			return m.registry.Touch(id)
		}
		_ = m.closeLocked(id)
	}
	if !m.limits.allow(id) {
		m.log.Warn().Str("vault_id", id).Msg("unlock throttled")
		return ErrTooManyAttempts
	}

	if _, err := os.Stat(info.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrVaultFileMissing, info.Path)
		}
		return fmt.Errorf("failed to stat vault file: %w", err)
	}

	v, err := vault.OpenOrCreate(info.Path, m.vaultOpts...)
	if err != nil {
		return err
	}
	if err := v.Unlock(password); err != nil {
		_ = v.Close()
		return err
	}

	m.open[id] = v
	m.log.Info().Str("vault_id", id).Msg("vault opened")
	return m.registry.Touch(id)
}

// SwitchActiveVault changes which vault is active. It does not unlock it.
func (m *Manager) SwitchActiveVault(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registry.SetActive(id)
}

// ActiveVault returns the active vault if it is unlocked.
func (m *Manager) ActiveVault() (*vault.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.activeLocked()
}

func (m *Manager) activeLocked() (*vault.Vault, error) {
	id := m.registry.ActiveID()
	if id == "" {
		return nil, ErrNoActiveVault
	}
	v, ok := m.open[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotOpen, id)
	}
	return v, nil
}

// WithActiveVault runs fn against the active vault while holding the
// manager lock, so a concurrent CloseAll cannot pull the vault away.
func (m *Manager) WithActiveVault(fn func(v *vault.Vault) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.activeLocked()
	if err != nil {
		return err
	}
	return fn(v)
}

// WithVault runs fn against an open vault while holding the manager lock.
func (m *Manager) WithVault(id string, fn func(v *vault.Vault) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.open[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVaultNotOpen, id)
	}
	return fn(v)
}

// Vault returns an open vault by id.
func (m *Manager) Vault(id string) (*vault.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.open[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotOpen, id)
	}
	return v, nil
}

// IsVaultOpen reports whether id is unlocked in this manager.
func (m *Manager) IsVaultOpen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.open[id]
	return ok
}

// OpenVaultIDs returns the ids of all open vaults.
func (m *Manager) OpenVaultIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	return ids
}

// CloseVault locks an open vault by dropping its handle. Closing a vault
// that is not open is a no-op.
func (m *Manager) CloseVault(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeLocked(id)
}

func (m *Manager) closeLocked(id string) error {
	v, ok := m.open[id]
	if !ok {
		return nil
	}
	delete(m.open, id)
	m.log.Info().Str("vault_id", id).Msg("vault closed")
	return v.Close()
}

// CloseAll locks every open vault.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id := range m.open {
		if err := m.closeLocked(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteVault closes the vault if open and removes it from the registry.
func (m *Manager) DeleteVault(id string, deleteFile bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.registry.Get(id); err != nil {
		return err
	}
	if len(m.registry.vaults) == 1 {
		return ErrLastVault
	}
	if err := m.closeLocked(id); err != nil {
		return err
	}
	return m.registry.Delete(id, deleteFile)
}

// ImportVault registers an existing vault file.
func (m *Manager) ImportVault(file, name string, category domain.VaultCategory, copyFile bool) (*domain.VaultInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registry.ImportVault(file, name, category, copyFile)
}

// UpdateVaultInfo patches display metadata.
func (m *Manager) UpdateVaultInfo(id string, patch domain.VaultInfoPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registry.Update(id, patch)
}

// ListVaults returns the catalog in display order.
func (m *Manager) ListVaults() []domain.VaultInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registry.ListVaults()
}

// ActiveInfo returns the active catalog entry.
func (m *Manager) ActiveInfo() (*domain.VaultInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registry.Active()
}

// Resolve finds a catalog entry by id, id prefix or name.
func (m *Manager) Resolve(ref string) (*domain.VaultInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registry.Resolve(ref)
}

// attemptLimiter keeps one token bucket per vault id.
type attemptLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*attemptBucket
}

type attemptBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newAttemptLimiter(limit rate.Limit, burst int) *attemptLimiter {
	return &attemptLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     10 * time.Minute,
		entries: make(map[string]*attemptBucket),
	}
}

func (a *attemptLimiter) allow(key string) bool {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.entries[key]
	if b == nil {
		b = &attemptBucket{lim: rate.NewLimiter(a.limit, a.burst)}
		a.entries[key] = b
	}
	b.lastSeen = now

	for k, v := range a.entries {
		if now.Sub(v.lastSeen) > a.ttl {
			delete(a.entries, k)
		}
	}
	return b.lim.Allow()
}
