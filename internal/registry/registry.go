// Package registry keeps the catalog of vault files known to an
// installation and, through Manager, which of them are unlocked.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/store"
)

// Error variables for registry operations
var (
	// ErrVaultNotFound is returned when no catalog entry has the given id
	ErrVaultNotFound = errors.New("vault not found")
	// ErrLastVault is returned when deleting the only remaining vault
	ErrLastVault = errors.New("cannot delete the last remaining vault")
	// ErrVaultFileMissing is returned when a vault file does not exist on disk
	ErrVaultFileMissing = errors.New("vault file does not exist")
	// ErrNoActiveVault is returned when no vault is marked active
	ErrNoActiveVault = errors.New("no active vault")
	// ErrVaultExists is returned when a vault file is already registered
	ErrVaultExists = errors.New("vault already registered")
)

const (
	// DefaultFileName is the registry file name inside the app config directory
	DefaultFileName = "registry.json"
	// managedDirName holds vault files created or copied by the registry
	managedDirName = "vaults"
	vaultFileExt   = ".db"

	lockTimeout = 10 * time.Second
	// minIDPrefix is the shortest id prefix Resolve accepts
	minIDPrefix = 8
)

// CreateOptions describes a new catalog entry.
type CreateOptions struct {
	// Path overrides the managed location <registry dir>/vaults/<id>.db
	Path        string
	Description string
	Category    domain.VaultCategory
}

type registryFile struct {
	Vaults        map[string]*domain.VaultInfo `json:"vaults"`
	ActiveVaultID string                       `json:"active_vault_id,omitempty"`
}

// Registry is the JSON catalog of vault files. Every mutation re-reads the
// file under its lock, applies the change and saves it, so processes sharing
// a registry do not lose each other's writes. A failed save leaves the
// in-memory catalog as it was. A Registry is not safe for concurrent use;
// Manager serializes access to it.
type Registry struct {
	path   string
	vaults map[string]*domain.VaultInfo
	active string
	log    zerolog.Logger

	writeFile func(path string, data []byte) error
}

// Load reads the registry at path. A missing file yields an empty registry
// that is written on the first mutation.
func Load(path string, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		path:      path,
		vaults:    make(map[string]*domain.VaultInfo),
		log:       logger,
		writeFile: store.AtomicWriteFile,
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// reload replaces the in-memory catalog with the file contents. An active
// id that no longer names an entry falls back like a deleted active vault.
func (r *Registry) reload() error {
	vaults := make(map[string]*domain.VaultInfo)
	active := ""

	data, err := os.ReadFile(filepath.Clean(r.path))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read registry: %w", err)
	default:
		var file registryFile
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse registry: %w", err)
		}
		for id, info := range file.Vaults {
			if info == nil {
				continue
			}
			info.ID = id
			vaults[id] = info
		}
		active = file.ActiveVaultID
	}

	r.vaults = vaults
	r.active = active
	if _, ok := r.vaults[r.active]; !ok {
		if r.active != "" {
			r.log.Warn().Str("vault_id", r.active).Msg("active vault missing from registry, choosing another")
		}
		r.activateFallback()
	}
	r.syncActiveFlags()
	return nil
}

// Path returns the registry file path
func (r *Registry) Path() string {
	return r.path
}

// ManagedDir is where vault files without a custom path live.
func (r *Registry) ManagedDir() string {
	return filepath.Join(filepath.Dir(r.path), managedDirName)
}

// EnsureDefault registers path as an active "Default Vault" when the
// registry is empty. It returns the active entry.
func (r *Registry) EnsureDefault(path string) (*domain.VaultInfo, error) {
	if len(r.vaults) > 0 {
		return r.Active()
	}
	return r.CreateVault("Default Vault", CreateOptions{
		Path:        path,
		Description: "Default personal vault",
		Category:    domain.CategoryPersonal,
	})
}

// CreateVault adds a catalog entry with a fresh UUID. The vault file itself
// is not created. The first vault registered becomes active.
func (r *Registry) CreateVault(name string, opts CreateOptions) (*domain.VaultInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("vault name cannot be empty")
	}

	id := uuid.NewString()
	path := opts.Path
	if path == "" {
		path = filepath.Join(r.ManagedDir(), id+vaultFileExt)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault path: %w", err)
	}

	category := opts.Category
	if category == "" {
		category = domain.CategoryPersonal
	}

	now := time.Now().UTC()
	info := &domain.VaultInfo{
		ID:           id,
		Name:         name,
		Path:         path,
		CreatedAt:    now,
		LastAccessed: now,
		Description:  opts.Description,
		Category:     category,
	}
	err = r.mutate(func() error {
		if existing := r.findByPath(path); existing != nil {
			return fmt.Errorf("%w: %s is %q", ErrVaultExists, path, existing.Name)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("failed to create vault directory: %w", err)
		}
		r.vaults[id] = info
		if r.active == "" {
			r.active = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Str("vault_id", id).Str("name", name).Msg("vault registered")
	return cloneInfo(info), nil
}

// ImportVault registers an existing vault file. With copyFile the file is
// copied into the managed directory first.
func (r *Registry) ImportVault(file, name string, category domain.VaultCategory, copyFile bool) (*domain.VaultInfo, error) {
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrVaultFileMissing, file)
		}
		return nil, fmt.Errorf("failed to stat vault file: %w", err)
	}

	opts := CreateOptions{Path: file, Description: "Imported vault", Category: category}
	if copyFile {
		dst := filepath.Join(r.ManagedDir(), uuid.NewString()+vaultFileExt)
		if err := copyVaultFile(file, dst); err != nil {
			return nil, err
		}
		opts.Path = dst
	}

	info, err := r.CreateVault(name, opts)
	if err != nil && copyFile {
		_ = os.Remove(opts.Path)
	}
	return info, err
}

// ListVaults returns all entries, favorites first, then most recently
// accessed first.
func (r *Registry) ListVaults() []domain.VaultInfo {
	out := make([]domain.VaultInfo, 0, len(r.vaults))
	for _, info := range r.vaults {
		out = append(out, *info)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsFavorite != out[j].IsFavorite {
			return out[i].IsFavorite
		}
		if !out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].LastAccessed.After(out[j].LastAccessed)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the entry with the given id.
func (r *Registry) Get(id string) (*domain.VaultInfo, error) {
	info, ok := r.vaults[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, id)
	}
	return cloneInfo(info), nil
}

// Resolve finds an entry by id, exact name or unique id prefix of at least
// eight characters, in that order.
func (r *Registry) Resolve(ref string) (*domain.VaultInfo, error) {
	if info, ok := r.vaults[ref]; ok {
		return cloneInfo(info), nil
	}

	match, err := r.findUnique(ref, func(info *domain.VaultInfo) bool {
		return info.Name == ref
	})
	if err != nil || match != nil {
		return match, err
	}

	if len(ref) >= minIDPrefix {
		match, err = r.findUnique(ref, func(info *domain.VaultInfo) bool {
			return strings.HasPrefix(info.ID, ref)
		})
		if err != nil || match != nil {
			return match, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, ref)
}

func (r *Registry) findUnique(ref string, pred func(*domain.VaultInfo) bool) (*domain.VaultInfo, error) {
	var match *domain.VaultInfo
	for _, info := range r.vaults {
		if !pred(info) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("vault reference %q is ambiguous", ref)
		}
		match = info
	}
	if match == nil {
		return nil, nil
	}
	return cloneInfo(match), nil
}

// ActiveID returns the active vault id, or "" when none is active.
func (r *Registry) ActiveID() string {
	return r.active
}

// Active returns the active entry.
func (r *Registry) Active() (*domain.VaultInfo, error) {
	if r.active == "" {
		return nil, ErrNoActiveVault
	}
	return r.Get(r.active)
}

// SetActive marks id active, deactivating the previous entry, and records
// the access time.
func (r *Registry) SetActive(id string) error {
	err := r.mutate(func() error {
		info, ok := r.vaults[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, id)
		}
		r.active = id
		info.LastAccessed = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info().Str("vault_id", id).Msg("active vault switched")
	return nil
}

// Touch records an access to id.
func (r *Registry) Touch(id string) error {
	return r.mutate(func() error {
		info, ok := r.vaults[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, id)
		}
		info.LastAccessed = time.Now().UTC()
		return nil
	})
}

// Update patches display metadata of an entry.
func (r *Registry) Update(id string, patch domain.VaultInfoPatch) error {
	var name string
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
		if name == "" {
			return errors.New("vault name cannot be empty")
		}
	}

	return r.mutate(func() error {
		info, ok := r.vaults[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, id)
		}
		if patch.Name != nil {
			info.Name = name
		}
		if patch.Description != nil {
			info.Description = *patch.Description
		}
		if patch.Category != nil {
			info.Category = *patch.Category
		}
		if patch.Favorite != nil {
			info.IsFavorite = *patch.Favorite
		}
		info.LastAccessed = time.Now().UTC()
		return nil
	})
}

// Delete removes an entry and, with deleteFile, its vault file. The last
// remaining vault cannot be deleted. Deleting the active vault activates
// the most recently accessed remaining one. Files are removed only after
// the catalog is saved.
func (r *Registry) Delete(id string, deleteFile bool) error {
	var path string
	err := r.mutate(func() error {
		info, ok := r.vaults[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, id)
		}
		if len(r.vaults) == 1 {
			return ErrLastVault
		}
		path = info.Path
		r.dropLocked(id)
		return nil
	})
	if err != nil {
		return err
	}

	if deleteFile {
		if err := removeVaultFiles(path); err != nil {
			return fmt.Errorf("vault removed from registry but its file remains: %w", err)
		}
	}
	r.log.Info().Str("vault_id", id).Bool("file_deleted", deleteFile).Msg("vault removed from registry")
	return nil
}

// remove drops an entry without the last-vault guard. Used to roll back a
// failed create.
func (r *Registry) remove(id string) error {
	return r.mutate(func() error {
		r.dropLocked(id)
		return nil
	})
}

// dropLocked deletes an entry, moving the active mark if it pointed there.
func (r *Registry) dropLocked(id string) {
	delete(r.vaults, id)
	if r.active == id {
		r.activateFallback()
	}
}

// activateFallback marks the first vault in display order active.
func (r *Registry) activateFallback() {
	r.active = ""
	if next := r.ListVaults(); len(next) > 0 {
		r.active = next[0].ID
	}
}

func (r *Registry) syncActiveFlags() {
	for id, info := range r.vaults {
		info.IsActive = id == r.active
	}
}

func (r *Registry) findByPath(path string) *domain.VaultInfo {
	for _, info := range r.vaults {
		if info.Path == path {
			return info
		}
	}
	return nil
}

// mutate runs fn as one read-modify-write cycle under the registry file
// lock. The catalog is re-read first so changes saved by other processes
// are kept. If fn or the save fails the catalog is restored.
func (r *Registry) mutate(fn func() error) error {
	lock := store.NewFileLock(r.path)
	if err := lock.Lock(lockTimeout); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.log.Warn().Err(err).Msg("failed to release registry lock")
		}
	}()

	if err := r.reload(); err != nil {
		return err
	}
	vaults, active := r.snapshot()

	err := fn()
	if err == nil {
		r.syncActiveFlags()
		err = r.save()
	}
	if err != nil {
		r.vaults, r.active = vaults, active
		r.syncActiveFlags()
		return err
	}
	return nil
}

func (r *Registry) snapshot() (map[string]*domain.VaultInfo, string) {
	vaults := make(map[string]*domain.VaultInfo, len(r.vaults))
	for id, info := range r.vaults {
		vaults[id] = cloneInfo(info)
	}
	return vaults, r.active
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(registryFile{
		Vaults:        r.vaults,
		ActiveVaultID: r.active,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := r.writeFile(r.path, data); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

func cloneInfo(info *domain.VaultInfo) *domain.VaultInfo {
	c := *info
	return &c
}

func copyVaultFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("failed to open vault file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create vault copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("failed to copy vault file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("failed to copy vault file: %w", err)
	}
	return nil
}

// removeVaultFiles deletes a vault file and any SQLite sidecar files.
func removeVaultFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete vault file: %w", err)
		}
	}
	return nil
}
