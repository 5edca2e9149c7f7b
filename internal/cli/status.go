package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/store"
)

func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vault and configuration status",
		Long: `Show where the vault lives, whether it is initialized, which registry
entry is active and the session settings. The vault is not unlocked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStatus()
		},
	}
}

func (a *App) runStatus() error {
	t, err := a.resolveTarget()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(w, "%s:\t%v\n", k, v) }

	if t.id != "" {
		row("Vault", t.name)
		row("Vault ID", t.id)
	}
	row("Path", t.path)

	switch _, statErr := os.Stat(t.path); {
	case errors.Is(statErr, os.ErrNotExist):
		row("State", warnText("not created"))
	case statErr != nil:
		return fmt.Errorf("failed to stat vault file: %w", statErr)
	default:
		driver, err := store.DetectDriver(t.path)
		if err != nil {
			return err
		}
		row("Storage", driver)

		v, err := a.openLocked(t)
		if err != nil {
			return err
		}
		initialized, err := v.IsInitialized()
		_ = v.Close()
		if err != nil {
			return err
		}
		if initialized {
			row("State", successMark("initialized"))
		} else {
			row("State", warnText("not initialized"))
		}
	}

	row("Registry", a.registry.Path())
	row("Registered vaults", len(a.registry.ListVaults()))
	if a.cfg.AutoLock.Enabled {
		row("Auto-lock", fmt.Sprintf("after %s idle (shell)", a.cfg.AutoLock.InactivityTimeout))
	} else {
		row("Auto-lock", "disabled")
	}
	row("Clipboard TTL", a.cfg.ClipboardTTL)

	return w.Flush()
}
