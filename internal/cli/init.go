package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create and initialize the vault",
		Long: `Initialize the active vault (or the file given with --vault) with a new
master password. Initializing a vault that already has a master password
leaves it untouched.

Example:
  chamber init
  chamber --vault ./team.sqlite3 init`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runInit()
		},
	}
}

func (a *App) runInit() error {
	t, err := a.resolveTarget()
	if err != nil {
		return err
	}

	v, err := a.openLocked(t)
	if err != nil {
		return err
	}
	defer v.Close()

	initialized, err := v.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		a.warn("Vault %s is already initialized", t)
		return nil
	}

	pw, err := a.newPassword(EnvPassword, "New master password: ")
	if err != nil {
		return err
	}

	stop := a.startSpinner("Deriving master key...")
	err = v.Initialize(pw)
	stop()
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	a.success("Vault initialized at %s", highlight(t.path))
	return nil
}
