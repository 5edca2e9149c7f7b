package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/vault-cli/chamber/internal/registry"
	"github.com/vault-cli/chamber/internal/vault"
)

// target is the vault a command works on: a registry entry, or a bare path
// given with --vault.
type target struct {
	id   string
	name string
	path string
}

func (t target) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s (%s)", t.name, t.path)
	}
	return t.path
}

// resolveTarget picks the --vault path when given, otherwise the active
// registry entry, registering the configured default vault on first use.
func (a *App) resolveTarget() (target, error) {
	if a.VaultPath != "" {
		return target{path: a.VaultPath}, nil
	}

	info, err := a.registry.EnsureDefault(a.cfg.VaultPath)
	if err != nil {
		return target{}, err
	}
	return target{id: info.ID, name: info.Name, path: info.Path}, nil
}

// openLocked opens the target's file without unlocking it. The caller
// closes the vault.
func (a *App) openLocked(t target) (*vault.Vault, error) {
	return vault.OpenOrCreate(t.path, a.cfg.VaultOptions(a.log)...)
}

// session is an unlockable handle on one vault that is safe to share
// between the shell loop and the auto-lock goroutine.
type session interface {
	Do(fn func(v *vault.Vault) error) error
	Unlock(password string) error
	Lock() error
	Close() error
}

// managedSession goes through the registry manager, so unlock attempts are
// throttled and access times recorded.
type managedSession struct {
	m  *registry.Manager
	id string
}

func (s *managedSession) Do(fn func(v *vault.Vault) error) error {
	err := s.m.WithVault(s.id, fn)
	if errors.Is(err, registry.ErrVaultNotOpen) {
		return fmt.Errorf("%w: %w", vault.ErrLocked, err)
	}
	return err
}

func (s *managedSession) Unlock(password string) error {
	return s.m.OpenVault(s.id, password)
}

// Lock drops every vault the manager has unlocked.
func (s *managedSession) Lock() error {
	return s.m.CloseAll()
}

func (s *managedSession) Close() error {
	return s.m.CloseVault(s.id)
}

// pathSession wraps a vault opened directly from a path.
type pathSession struct {
	g *vault.Guarded
}

func (s *pathSession) Do(fn func(v *vault.Vault) error) error {
	return s.g.Do(fn)
}

func (s *pathSession) Unlock(password string) error {
	return s.g.Do(func(v *vault.Vault) error {
		return v.Unlock(password)
	})
}

func (s *pathSession) Lock() error {
	return s.g.Lock()
}

func (s *pathSession) Close() error {
	return s.g.Close()
}

// newSession returns a locked session for t. The vault file must exist.
func (a *App) newSession(t target) (session, error) {
	if _, err := os.Stat(t.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no vault at %s", vault.ErrNotInitialized, t.path)
		}
		return nil, fmt.Errorf("failed to stat vault file: %w", err)
	}

	if t.id != "" {
		return &managedSession{m: a.manager, id: t.id}, nil
	}

	v, err := a.openLocked(t)
	if err != nil {
		return nil, err
	}
	return &pathSession{g: vault.NewGuarded(v)}, nil
}

// unlockSession prompts for the master password and unlocks s.
func (a *App) unlockSession(s session) error {
	pw, err := a.password("Master password: ")
	if err != nil {
		return err
	}

	stop := a.startSpinner("Unlocking vault...")
	err = s.Unlock(pw)
	stop()
	return err
}

// withUnlockedVault resolves the target, unlocks it, runs fn and locks the
// vault again.
func (a *App) withUnlockedVault(fn func(v *vault.Vault) error) error {
	t, err := a.resolveTarget()
	if err != nil {
		return err
	}

	s, err := a.newSession(t)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			a.log.Warn().Err(cerr).Msg("failed to close vault")
		}
	}()

	if err := a.unlockSession(s); err != nil {
		return err
	}
	return s.Do(fn)
}
