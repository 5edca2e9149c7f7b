package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-cli/chamber/internal/config"
	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/store"
	"github.com/vault-cli/chamber/internal/util"
	"github.com/vault-cli/chamber/internal/vault"
)

const testPassword = "correct horse battery staple"

func init() {
	color.NoColor = true
}

// syncBuffer is a bytes.Buffer safe for the shell and auto-lock goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type memClipboard struct {
	mu   sync.Mutex
	text string
}

func (m *memClipboard) ReadAll() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *memClipboard) WriteAll(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = s
	return nil
}

// testEnv is an isolated config, registry and default vault location.
type testEnv struct {
	dir        string
	configPath string
	cfg        *config.Config
	clip       *memClipboard
}

func newTestEnv(t *testing.T, mutate ...func(c *config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.VaultPath = filepath.Join(dir, "vault.sqlite3")
	cfg.RegistryPath = filepath.Join(dir, "registry.json")
	cfg.KDF = config.KDFConfig{Memory: 64, Iterations: 1, Parallelism: 1}
	cfg.ClipboardTTL = 0
	for _, m := range mutate {
		m(cfg)
	}

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, configPath))

	t.Setenv(EnvPassword, testPassword)
	return &testEnv{dir: dir, configPath: configPath, cfg: cfg, clip: &memClipboard{}}
}

type result struct {
	out string
	err string
}

func (e *testEnv) newApp(in io.Reader, out, errOut io.Writer) *App {
	app := NewApp(in, out, errOut)
	app.clip = e.clip
	return app
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (result, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := e.newApp(strings.NewReader(stdin), &out, &errOut)
	err := app.Run(context.Background(), append([]string{"--config", e.configPath}, args...))
	return result{out: out.String(), err: errOut.String()}, err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) result {
	t.Helper()
	res, err := e.run(t, "", args...)
	require.NoError(t, err, "chamber %v\nstdout: %s\nstderr: %s", args, res.out, res.err)
	return res
}

func TestInitAndStatus(t *testing.T) {
	env := newTestEnv(t)

	res := env.mustRun(t, "status")
	assert.Contains(t, res.out, "not created")

	res = env.mustRun(t, "init")
	assert.Contains(t, res.out, "Vault initialized")
	assert.FileExists(t, env.cfg.VaultPath)

	res = env.mustRun(t, "status")
	assert.Contains(t, res.out, "Default Vault")
	assert.Contains(t, res.out, "initialized")
	assert.Contains(t, res.out, store.DriverSQLite)

	res = env.mustRun(t, "init")
	assert.Contains(t, res.err, "already initialized")
}

func TestItemLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")

	env.mustRun(t, "add", "github", "--kind", "pwd", "--value", "hunter2")
	env.mustRun(t, "add", "DATABASE_URL", "--kind", "env", "--value", "postgres://localhost/app")

	res := env.mustRun(t, "get", "github")
	assert.Equal(t, "hunter2\n", res.out)

	res = env.mustRun(t, "list")
	assert.Contains(t, res.out, "DATABASE_URL")
	assert.Contains(t, res.out, "github")
	assert.NotContains(t, res.out, "hunter2", "list never shows values")
	assert.Less(t, strings.Index(res.out, "DATABASE_URL"), strings.Index(res.out, "github"), "sorted by name")

	env.mustRun(t, "update", "github", "--value", "hunter3")
	res = env.mustRun(t, "get", "github")
	assert.Equal(t, "hunter3\n", res.out)

	env.mustRun(t, "rm", "github", "--force")
	_, err := env.run(t, "", "get", "github")
	assert.ErrorIs(t, err, vault.ErrItemNotFound)
	assert.Equal(t, util.ExitError, util.ExitCode(err))
}

func TestAddPromptsForValue(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")

	_, err := env.run(t, "from-stdin\n", "add", "token", "--kind", "apikey")
	require.NoError(t, err)

	res := env.mustRun(t, "get", "token")
	assert.Equal(t, "from-stdin\n", res.out)

	_, err = env.run(t, "\n", "add", "empty", "--kind", "note")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
}

func TestDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")
	env.mustRun(t, "add", "x", "--value", "1")

	_, err := env.run(t, "", "add", "x", "--value", "2")
	assert.ErrorIs(t, err, vault.ErrDuplicateName)

	res := env.mustRun(t, "get", "x")
	assert.Equal(t, "1\n", res.out)
}

func TestInvalidKind(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")

	_, err := env.run(t, "", "add", "x", "--kind", "bogus", "--value", "1")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))

	_, err = env.run(t, "", "list", "--kind", "bogus")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
}

func TestWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")

	t.Setenv(EnvPassword, "wrong")
	_, err := env.run(t, "", "list")
	assert.ErrorIs(t, err, vault.ErrInvalidMasterKey)
	assert.Equal(t, util.ExitVaultLocked, util.ExitCode(err))
}

func TestUninitializedVault(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "", "list")
	assert.ErrorIs(t, err, vault.ErrNotInitialized)
	assert.Equal(t, util.ExitVaultLocked, util.ExitCode(err))
}

func TestListFiltersAndJSON(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")
	env.mustRun(t, "add", "aws-prod", "--kind", "apikey", "--value", "a")
	env.mustRun(t, "add", "aws-dev", "--kind", "apikey", "--value", "b")
	env.mustRun(t, "add", "notes", "--kind", "note", "--value", "c")

	res := env.mustRun(t, "list", "--kind", "token", "--json")
	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(res.out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "aws-dev", entries[0].Name)
	assert.Equal(t, domain.KindAPIKey, entries[0].Kind)

	res = env.mustRun(t, "list", "--search", "aws+prod")
	assert.Contains(t, res.out, "aws-prod")
	assert.NotContains(t, res.out, "aws-dev")

	res = env.mustRun(t, "list", "--search", "nothing")
	assert.Contains(t, res.out, "No items found")
}

func TestGetCopy(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")
	env.mustRun(t, "add", "github", "--value", "hunter2")

	res := env.mustRun(t, "get", "github", "--copy")
	assert.NotContains(t, res.out, "hunter2")
	assert.Contains(t, res.out, "Copied")

	text, _ := env.clip.ReadAll()
	assert.Equal(t, "hunter2", text)
}

func TestGetCopyClearsAfterTTL(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.ClipboardTTL = 20 * time.Millisecond })
	env.mustRun(t, "init")
	env.mustRun(t, "add", "github", "--value", "hunter2")

	res := env.mustRun(t, "get", "github", "--copy")
	assert.Contains(t, res.out, "clears in")

	text, _ := env.clip.ReadAll()
	assert.Empty(t, text, "get --copy waits for the clear")
}

func TestRemoveConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")
	env.mustRun(t, "add", "keep", "--value", "1")

	res, err := env.run(t, "n\n", "rm", "keep")
	require.NoError(t, err)
	assert.Contains(t, res.out, "Cancelled")
	env.mustRun(t, "get", "keep")

	_, err = env.run(t, "y\n", "rm", "keep")
	require.NoError(t, err)
	_, err = env.run(t, "", "get", "keep")
	assert.ErrorIs(t, err, vault.ErrItemNotFound)
}

func TestPasswd(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")
	env.mustRun(t, "add", "github", "--value", "hunter2")

	t.Setenv(EnvNewPassword, "new password")
	env.mustRun(t, "passwd")

	_, err := env.run(t, "", "get", "github")
	assert.ErrorIs(t, err, vault.ErrInvalidMasterKey)

	t.Setenv(EnvPassword, "new password")
	res := env.mustRun(t, "get", "github")
	assert.Equal(t, "hunter2\n", res.out)

	_, err = env.run(t, "", "passwd")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err), "same password is rejected")
}

func TestPasswdWrongCurrent(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")

	t.Setenv(EnvPassword, "wrong")
	t.Setenv(EnvNewPassword, "new password")
	_, err := env.run(t, "", "passwd")
	assert.ErrorIs(t, err, vault.ErrInvalidMasterKey)
}

func TestExplicitVaultPathWithBolt(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.StorageDriver = store.DriverBolt })
	path := filepath.Join(env.dir, "other.db")

	env.mustRun(t, "--vault", path, "init")
	env.mustRun(t, "--vault", path, "add", "x", "--value", "bolt value")

	driver, err := store.DetectDriver(path)
	require.NoError(t, err)
	assert.Equal(t, store.DriverBolt, driver)

	res := env.mustRun(t, "--vault", path, "get", "x")
	assert.Equal(t, "bolt value\n", res.out)

	res = env.mustRun(t, "vaults", "list")
	assert.NotContains(t, res.out, path, "--vault bypasses the registry")
}

func TestVaultsCommands(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")
	env.mustRun(t, "add", "personal-item", "--value", "p")

	res := env.mustRun(t, "vaults", "create", "work", "--category", "work", "--switch")
	assert.Contains(t, res.out, "Created vault")

	res = env.mustRun(t, "vaults", "list")
	assert.Contains(t, res.out, "work")
	assert.Contains(t, res.out, "Default Vault")

	res = env.mustRun(t, "list")
	assert.Contains(t, res.out, "No items found", "the new vault is active")

	env.mustRun(t, "vaults", "switch", "Default Vault")
	res = env.mustRun(t, "list")
	assert.Contains(t, res.out, "personal-item")

	env.mustRun(t, "vaults", "update", "work", "--name", "office", "--favorite")
	res = env.mustRun(t, "vaults", "list", "--json")
	var vaults []domain.VaultInfo
	require.NoError(t, json.Unmarshal([]byte(res.out), &vaults))
	require.Len(t, vaults, 2)
	assert.Equal(t, "office", vaults[0].Name, "favorites first")
	assert.True(t, vaults[0].IsFavorite)

	_, err := env.run(t, "", "vaults", "update", "office")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))

	env.mustRun(t, "vaults", "delete", "office", "--delete-file", "--force")
	assert.NoFileExists(t, vaults[0].Path)

	_, err = env.run(t, "", "vaults", "delete", "Default Vault", "--force")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last remaining vault")
}

func TestVaultsImport(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "external.sqlite3")
	env.mustRun(t, "--vault", path, "init")
	env.mustRun(t, "--vault", path, "add", "shared", "--value", "s")

	_, err := env.run(t, "", "vaults", "import", path)
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err), "--name is required")

	env.mustRun(t, "vaults", "import", path, "--name", "team", "--category", "team", "--copy")
	env.mustRun(t, "vaults", "switch", "team")

	res := env.mustRun(t, "get", "shared")
	assert.Equal(t, "s\n", res.out)
}

func TestConfigCommands(t *testing.T) {
	env := newTestEnv(t)

	res := env.mustRun(t, "config", "path")
	assert.Equal(t, env.configPath+"\n", res.out)

	res = env.mustRun(t, "config", "get", "storage-driver")
	assert.Equal(t, "sqlite\n", res.out)

	env.mustRun(t, "config", "set", "clipboard_ttl", "45s")
	res = env.mustRun(t, "config", "get", "clipboard_ttl")
	assert.Equal(t, "45s\n", res.out)

	res = env.mustRun(t, "config", "get")
	assert.Contains(t, res.out, "auto_lock.inactivity_timeout: 5m0s")

	_, err := env.run(t, "", "config", "set", "storage_driver", "postgres")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
	_, err = env.run(t, "", "config", "set", "nope", "1")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
	_, err = env.run(t, "", "config", "set", "kdf.iterations", "abc")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
}

func TestShellSession(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.AutoLock.Enabled = false })
	env.mustRun(t, "init")

	script := strings.Join([]string{
		"add github password hunter2",
		"list",
		"get github",
		"lock",
		"get github",
		"unlock",
		"update github hunter3",
		"get github",
		"bogus",
		"rm github",
		"list",
		"exit",
	}, "\n") + "\n"

	res, err := env.run(t, script, "shell")
	require.NoError(t, err)

	assert.Contains(t, res.out, "Added Password github")
	assert.Contains(t, res.out, "hunter2\n")
	assert.Contains(t, res.out, "Vault locked.")
	assert.Contains(t, res.err, "vault is locked")
	assert.Contains(t, res.out, "hunter3\n")
	assert.Contains(t, res.err, "unknown command")
	assert.Contains(t, res.out, "Deleted github")
	assert.Contains(t, res.out, "No items found")
}

func TestShellPathSession(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.AutoLock.Enabled = false })
	path := filepath.Join(env.dir, "direct.sqlite3")
	env.mustRun(t, "--vault", path, "init")

	res, err := env.run(t, "add k note v\nlock\nlist\nunlock\nstatus\nget k\n", "--vault", path, "shell")
	require.NoError(t, err, "EOF ends the session")
	assert.Contains(t, res.err, "vault is locked")
	assert.Contains(t, res.out, "State: unlocked")
	assert.Contains(t, res.out, "v\n")
}

func TestShellAutoLock(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.AutoLock.Enabled = true
		c.AutoLock.InactivityTimeout = 20 * time.Millisecond
		c.AutoLock.CheckInterval = 5 * time.Millisecond
	})
	env.mustRun(t, "init")

	pr, pw := io.Pipe()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	app := env.newApp(pr, out, errOut)

	done := make(chan error, 1)
	go func() {
		done <- app.Run(context.Background(), []string{"--config", env.configPath, "shell"})
	}()

	_, err := io.WriteString(pw, "list\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(errOut.String(), "locked after inactivity")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(pw, "status\nexit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shell did not exit")
	}
	assert.Contains(t, out.String(), "State: locked")
}

func TestDoctor(t *testing.T) {
	env := newTestEnv(t)

	res := env.mustRun(t, "doctor")
	assert.Contains(t, res.out, "no vault yet at "+env.cfg.VaultPath)

	env.mustRun(t, "init")
	extra := filepath.Join(env.dir, "extra.db")
	env.mustRun(t, "vaults", "create", "extra", "--path", extra)
	require.NoError(t, os.Remove(extra))

	res = env.mustRun(t, "doctor")
	assert.Contains(t, res.out, "Default Vault: sqlite file, permissions 600")
	assert.Contains(t, res.out, "extra: file not found")
	assert.Contains(t, res.out, "memory cost: 64 KiB (weak")
	assert.Contains(t, res.out, "clipboard is never cleared automatically")
	assert.Contains(t, res.out, "Found 2 issues")
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")

	res := env.mustRun(t, "stats")
	assert.Contains(t, res.out, "Vault Statistics (Default Vault)")
	assert.Contains(t, res.out, "No items found.")

	env.mustRun(t, "add", "github", "--kind", "password", "--value", "hunter2")
	env.mustRun(t, "add", "gitlab", "--kind", "password", "--value", "correct horse")
	env.mustRun(t, "add", "DATABASE_URL", "--kind", "env", "--value", "postgres://localhost/app")

	res = env.mustRun(t, "stats")
	assert.Regexp(t, `Total items:\s+3`, res.out)
	assert.Regexp(t, `Recently updated \(30 days\):\s+3`, res.out)
	assert.Regexp(t, `Password:\s+2\s+\(66\.7%\)`, res.out)
	assert.Regexp(t, `Environment Variable:\s+1\s+\(33\.3%\)`, res.out)
	assert.Regexp(t, `Length range:\s+7 - 13 characters`, res.out)
	assert.NotContains(t, res.out, "hunter2")
}
