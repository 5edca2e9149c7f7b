package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Load(filepath.Join(t.TempDir(), DefaultFileName), zerolog.Nop())
	require.NoError(t, err)
	return reg
}

func TestLoadMissingRegistryIsEmpty(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Empty(t, reg.ListVaults())
	assert.Equal(t, "", reg.ActiveID())

	_, err := reg.Active()
	assert.ErrorIs(t, err, ErrNoActiveVault)

	_, err = os.Stat(reg.Path())
	assert.True(t, os.IsNotExist(err), "nothing is written until a mutation")
}

func TestCreateVault(t *testing.T) {
	reg := newTestRegistry(t)

	first, err := reg.CreateVault("Personal", CreateOptions{Description: "mine"})
	require.NoError(t, err)
	assert.Len(t, first.ID, 36)
	assert.Equal(t, filepath.Join(reg.ManagedDir(), first.ID+".db"), first.Path)
	assert.Equal(t, domain.CategoryPersonal, first.Category)
	assert.True(t, first.IsActive, "first vault becomes active")
	assert.False(t, first.IsFavorite)

	custom := filepath.Join(t.TempDir(), "sub", "work.db")
	second, err := reg.CreateVault("Work", CreateOptions{Path: custom, Category: domain.CategoryWork})
	require.NoError(t, err)
	assert.Equal(t, custom, second.Path)
	assert.False(t, second.IsActive)
	assert.DirExists(t, filepath.Dir(custom))

	_, err = reg.CreateVault("Again", CreateOptions{Path: custom})
	assert.ErrorIs(t, err, ErrVaultExists)

	_, err = reg.CreateVault("  ", CreateOptions{})
	assert.Error(t, err)

	assert.Equal(t, first.ID, reg.ActiveID())
}

func TestRegistryPersistsAsJSON(t *testing.T) {
	reg := newTestRegistry(t)
	info, err := reg.CreateVault("Personal", CreateOptions{})
	require.NoError(t, err)

	data, err := os.ReadFile(reg.Path())
	require.NoError(t, err)

	var raw struct {
		Vaults        map[string]map[string]any `json:"vaults"`
		ActiveVaultID string                    `json:"active_vault_id"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, info.ID, raw.ActiveVaultID)
	require.Contains(t, raw.Vaults, info.ID)
	for _, key := range []string{"id", "name", "path", "created_at", "last_accessed", "category", "is_active", "is_favorite"} {
		assert.Contains(t, raw.Vaults[info.ID], key)
	}

	reloaded, err := Load(reg.Path(), zerolog.Nop())
	require.NoError(t, err)
	got, err := reloaded.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.Name, got.Name)
	assert.True(t, got.IsActive)
	assert.WithinDuration(t, info.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestSetActiveDeactivatesPrevious(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateVault("A", CreateOptions{})
	require.NoError(t, err)
	b, err := reg.CreateVault("B", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, reg.SetActive(b.ID))

	gotA, err := reg.Get(a.ID)
	require.NoError(t, err)
	gotB, err := reg.Get(b.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsActive)
	assert.True(t, gotB.IsActive)
	assert.True(t, gotB.LastAccessed.After(b.LastAccessed) || gotB.LastAccessed.Equal(b.LastAccessed))

	assert.ErrorIs(t, reg.SetActive("missing"), ErrVaultNotFound)
}

func TestListVaultsOrdering(t *testing.T) {
	reg := newTestRegistry(t)
	old, err := reg.CreateVault("Old", CreateOptions{})
	require.NoError(t, err)
	fav, err := reg.CreateVault("Fav", CreateOptions{})
	require.NoError(t, err)
	recent, err := reg.CreateVault("Recent", CreateOptions{})
	require.NoError(t, err)

	favorite := true
	require.NoError(t, reg.Update(fav.ID, domain.VaultInfoPatch{Favorite: &favorite}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, reg.Touch(recent.ID))

	list := reg.ListVaults()
	require.Len(t, list, 3)
	assert.Equal(t, fav.ID, list[0].ID)
	assert.Equal(t, recent.ID, list[1].ID)
	assert.Equal(t, old.ID, list[2].ID)
}

func TestUpdatePatchesMetadata(t *testing.T) {
	reg := newTestRegistry(t)
	info, err := reg.CreateVault("Name", CreateOptions{Description: "before"})
	require.NoError(t, err)

	name := "Renamed"
	category := domain.CategoryArchive
	require.NoError(t, reg.Update(info.ID, domain.VaultInfoPatch{Name: &name, Category: &category}))

	got, err := reg.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, domain.CategoryArchive, got.Category)
	assert.Equal(t, "before", got.Description)
	assert.Equal(t, info.Path, got.Path)

	empty := ""
	assert.Error(t, reg.Update(info.ID, domain.VaultInfoPatch{Name: &empty}))
	assert.ErrorIs(t, reg.Update("missing", domain.VaultInfoPatch{}), ErrVaultNotFound)
}

func TestDeleteVault(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateVault("A", CreateOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Delete(a.ID, false), ErrLastVault)

	b, err := reg.CreateVault("B", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.Path, []byte("data"), 0o600))
	require.NoError(t, os.WriteFile(a.Path+"-wal", []byte("wal"), 0o600))

	require.NoError(t, reg.Delete(a.ID, true))
	assert.NoFileExists(t, a.Path)
	assert.NoFileExists(t, a.Path+"-wal")

	assert.Equal(t, b.ID, reg.ActiveID(), "deleting the active vault activates another")
	got, err := reg.Get(b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	_, err = reg.Get(a.ID)
	assert.ErrorIs(t, err, ErrVaultNotFound)
	assert.ErrorIs(t, reg.Delete(a.ID, false), ErrVaultNotFound)
}

func TestDeleteKeepsFileByDefault(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateVault("A", CreateOptions{})
	require.NoError(t, err)
	_, err = reg.CreateVault("B", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.Path, []byte("data"), 0o600))

	require.NoError(t, reg.Delete(a.ID, false))
	assert.FileExists(t, a.Path)
}

func TestImportVault(t *testing.T) {
	reg := newTestRegistry(t)
	src := filepath.Join(t.TempDir(), "external.db")
	require.NoError(t, os.WriteFile(src, []byte("vault bytes"), 0o600))

	linked, err := reg.ImportVault(src, "Linked", domain.CategoryTeam, false)
	require.NoError(t, err)
	assert.Equal(t, src, linked.Path)
	assert.Equal(t, "Imported vault", linked.Description)
	assert.Equal(t, domain.CategoryTeam, linked.Category)

	copied, err := reg.ImportVault(src, "Copied", domain.CategoryProject, true)
	require.NoError(t, err)
	assert.NotEqual(t, src, copied.Path)
	assert.Equal(t, reg.ManagedDir(), filepath.Dir(copied.Path))
	data, err := os.ReadFile(copied.Path)
	require.NoError(t, err)
	assert.Equal(t, "vault bytes", string(data))

	_, err = reg.ImportVault(filepath.Join(t.TempDir(), "missing.db"), "Nope", domain.CategoryPersonal, false)
	assert.ErrorIs(t, err, ErrVaultFileMissing)
}

func TestEnsureDefault(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "vault.sqlite3")

	info, err := reg.EnsureDefault(path)
	require.NoError(t, err)
	assert.Equal(t, "Default Vault", info.Name)
	assert.Equal(t, path, info.Path)
	assert.True(t, info.IsActive)

	again, err := reg.EnsureDefault(filepath.Join(t.TempDir(), "other.db"))
	require.NoError(t, err)
	assert.Equal(t, info.ID, again.ID)
	assert.Len(t, reg.ListVaults(), 1)
}

func TestResolve(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateVault("Alpha", CreateOptions{})
	require.NoError(t, err)

	got, err := reg.Resolve("Alpha")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	got, err = reg.Resolve(a.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = reg.Resolve("Beta")
	assert.ErrorIs(t, err, ErrVaultNotFound)

	_, err = reg.Resolve(a.ID[:4])
	assert.ErrorIs(t, err, ErrVaultNotFound, "short prefixes are not accepted")
}

func TestResolvePrefersExactName(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateVault("Alpha", CreateOptions{})
	require.NoError(t, err)
	named, err := reg.CreateVault(a.ID[:8], CreateOptions{})
	require.NoError(t, err)

	got, err := reg.Resolve(a.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, named.ID, got.ID)

	_, err = reg.CreateVault("Alpha", CreateOptions{})
	require.NoError(t, err)
	_, err = reg.Resolve("Alpha")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVaultNotFound)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestFailedSaveLeavesCatalogUnchanged(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateVault("A", CreateOptions{})
	require.NoError(t, err)
	b, err := reg.CreateVault("B", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.Path, []byte("data"), 0o600))

	errDisk := errors.New("disk full")
	reg.writeFile = func(string, []byte) error { return errDisk }

	_, err = reg.CreateVault("C", CreateOptions{})
	assert.ErrorIs(t, err, errDisk)
	assert.Len(t, reg.ListVaults(), 2)

	assert.ErrorIs(t, reg.SetActive(b.ID), errDisk)
	assert.Equal(t, a.ID, reg.ActiveID())
	gotB, err := reg.Get(b.ID)
	require.NoError(t, err)
	assert.False(t, gotB.IsActive)

	name := "Renamed"
	assert.ErrorIs(t, reg.Update(a.ID, domain.VaultInfoPatch{Name: &name}), errDisk)
	gotA, err := reg.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", gotA.Name)
	assert.True(t, gotA.IsActive)

	assert.ErrorIs(t, reg.Delete(a.ID, true), errDisk)
	assert.FileExists(t, a.Path, "files are only removed after the catalog is saved")
	_, err = reg.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, reg.ActiveID())

	reg.writeFile = store.AtomicWriteFile
	require.NoError(t, reg.Touch(b.ID))
	reloaded, err := Load(reg.Path(), zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, reloaded.ListVaults(), 2)
	assert.Equal(t, a.ID, reloaded.ActiveID())
}

func TestFailedCreateDoesNotLeaveActiveID(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	reg, err := Load(filepath.Join(blocker, DefaultFileName), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o600))

	_, err = reg.CreateVault("first", CreateOptions{})
	require.Error(t, err)
	assert.Empty(t, reg.ListVaults())
	assert.Equal(t, "", reg.ActiveID())

	require.NoError(t, os.Remove(blocker))
	second, err := reg.CreateVault("second", CreateOptions{})
	require.NoError(t, err)

	reloaded, err := Load(reg.Path(), zerolog.Nop())
	require.NoError(t, err)
	active, err := reloaded.EnsureDefault(filepath.Join(t.TempDir(), "default.db"))
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestLoadFallsBackWhenActiveIsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	data := `{
  "vaults": {
    "11111111-2222-3333-4444-555555555555": {"name": "Only", "path": "/tmp/only.db", "category": "personal"}
  },
  "active_vault_id": "gone"
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	reg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", reg.ActiveID())

	active, err := reg.Active()
	require.NoError(t, err)
	assert.True(t, active.IsActive)
}

func TestConcurrentRegistriesKeepBothWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	first, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	second, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	a, err := first.CreateVault("A", CreateOptions{})
	require.NoError(t, err)
	b, err := second.CreateVault("B", CreateOptions{})
	require.NoError(t, err)
	assert.False(t, b.IsActive, "second writer sees the first writer's active vault")
	assert.Len(t, second.ListVaults(), 2)

	reloaded, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, reloaded.ListVaults(), 2)
	assert.Equal(t, a.ID, reloaded.ActiveID())

	require.NoError(t, first.SetActive(b.ID))
	assert.Len(t, first.ListVaults(), 2)
}
