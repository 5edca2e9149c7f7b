package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/crypto"
	"github.com/vault-cli/chamber/internal/store"
)

var failText = color.New(color.FgRed).SprintFunc()

func newDoctorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Perform security and health checks",
		Long: `Perform security and health checks without unlocking anything.

This command checks:
- Permissions of every registered vault file and its directory
- That registered vault files exist and have a known storage format
- Permissions of the config and registry files
- Key derivation cost for new vaults
- Clipboard and auto-lock timeouts

Example:
  chamber doctor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runDoctor()
		},
	}
}

// doctorReport collects check results and counts problems.
type doctorReport struct {
	app      *App
	issues   int
	warnings int
}

func (r *doctorReport) section(title string) {
	fmt.Fprintf(r.app.Out, "\n%s\n", title)
}

func (r *doctorReport) ok(format string, args ...any) {
	fmt.Fprintf(r.app.Out, "  %s %s\n", successMark("✓"), fmt.Sprintf(format, args...))
}

func (r *doctorReport) warn(format string, args ...any) {
	r.warnings++
	fmt.Fprintf(r.app.Out, "  %s %s\n", warnText("!"), fmt.Sprintf(format, args...))
}

func (r *doctorReport) fail(format string, args ...any) {
	r.issues++
	fmt.Fprintf(r.app.Out, "  %s %s\n", failText("✗"), fmt.Sprintf(format, args...))
}

func (r *doctorReport) hint(format string, args ...any) {
	fmt.Fprintf(r.app.Out, "    %s\n", muted(fmt.Sprintf(format, args...)))
}

// checkFileMode flags files readable by group or others.
func (r *doctorReport) checkFileMode(label, path string) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		r.ok("%s not present (defaults in use)", label)
		return
	}
	if err != nil {
		r.fail("cannot check %s: %v", label, err)
		return
	}
	perm := info.Mode().Perm()
	switch {
	case perm == 0o600:
		r.ok("%s permissions: %o", label, perm)
	case perm&0o077 != 0:
		r.fail("%s permissions: %o (too permissive, should be 600)", label, perm)
		r.hint("fix with: chmod 600 %s", path)
	default:
		r.warn("%s permissions: %o (600 recommended)", label, perm)
	}
}

func (r *doctorReport) checkVaultFile(name, path string) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		r.fail("%s: file not found: %s", name, path)
		return
	}
	if err != nil {
		r.fail("%s: cannot check file: %v", name, err)
		return
	}

	driver, err := store.DetectDriver(path)
	if err != nil {
		r.fail("%s: %v", name, err)
		return
	}
	perm := info.Mode().Perm()
	if perm&0o077 != 0 {
		r.fail("%s: %s file permissions %o (too permissive, should be 600)", name, driver, perm)
		r.hint("fix with: chmod 600 %s", path)
	} else {
		r.ok("%s: %s file, permissions %o", name, driver, perm)
	}

	dir := filepath.Dir(path)
	if dirInfo, err := os.Stat(dir); err == nil && dirInfo.Mode().Perm()&0o077 != 0 {
		r.warn("%s: directory %s permissions %o (consider 700)", name, dir, dirInfo.Mode().Perm())
	}
}

func (a *App) runDoctor() error {
	fmt.Fprintln(a.Out, "Vault Security & Health Check")
	fmt.Fprintln(a.Out, strings.Repeat("=", 29))
	r := &doctorReport{app: a}

	r.section("1. Vault Files")
	vaults := a.registry.ListVaults()
	if len(vaults) == 0 {
		r.checkVaultFileOrDefault(a.cfg.VaultPath)
	}
	for _, info := range vaults {
		r.checkVaultFile(info.Name, info.Path)
	}

	r.section("2. Configuration Files")
	cfgPath, err := a.configPath()
	if err != nil {
		return err
	}
	r.checkFileMode("config file", cfgPath)
	r.checkFileMode("registry file", a.registry.Path())

	r.section("3. Key Derivation")
	kdf := a.cfg.KDF
	switch {
	case kdf.Memory >= crypto.DefaultMemoryKiB:
		r.ok("memory cost: %d KiB", kdf.Memory)
	case kdf.Memory >= 8192:
		r.warn("memory cost: %d KiB (below the default of %d KiB)", kdf.Memory, crypto.DefaultMemoryKiB)
	default:
		r.fail("memory cost: %d KiB (weak, should be at least 8192 KiB)", kdf.Memory)
	}
	if kdf.Iterations >= crypto.DefaultTimeCost {
		r.ok("iterations: %d", kdf.Iterations)
	} else {
		r.warn("iterations: %d (consider at least %d)", kdf.Iterations, crypto.DefaultTimeCost)
	}
	r.hint("applies to new vaults and password changes")

	r.section("4. Session Settings")
	switch ttl := a.cfg.ClipboardTTL; {
	case ttl <= 0:
		r.warn("clipboard is never cleared automatically")
	case ttl > time.Minute:
		r.warn("clipboard timeout is %s (consider reducing)", ttl)
	default:
		r.ok("clipboard timeout: %s", ttl)
	}
	switch al := a.cfg.AutoLock; {
	case !al.Enabled:
		r.warn("shell auto-lock is disabled")
	case al.InactivityTimeout > 4*time.Hour:
		r.warn("auto-lock timeout is %s (consider reducing)", al.InactivityTimeout)
	default:
		r.ok("auto-lock timeout: %s", al.InactivityTimeout)
	}

	fmt.Fprintln(a.Out, "\n"+strings.Repeat("=", 40))
	if r.issues == 0 && r.warnings == 0 {
		fmt.Fprintf(a.Out, "%s All checks passed.\n", successMark("✓"))
		return nil
	}
	if r.issues > 0 {
		fmt.Fprintf(a.Out, "%s Found %d issues that should be fixed\n", failText("✗"), r.issues)
	}
	if r.warnings > 0 {
		fmt.Fprintf(a.Out, "%s Found %d warnings for consideration\n", warnText("!"), r.warnings)
	}
	return nil
}

// checkVaultFileOrDefault reports on the default vault before it is registered.
func (r *doctorReport) checkVaultFileOrDefault(path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		r.warn("no vault yet at %s", path)
		r.hint("run 'chamber init' to create one")
		return
	}
	r.checkVaultFile("default vault", path)
}
