package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/vault"
)

func newRemoveCommand(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"delete"},
		Short:   "Delete an item from the vault",
		Long: `Delete an item permanently. You are asked for confirmation unless
--force is given.

Example:
  chamber rm github
  chamber rm old-token --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runRemove(args[0], force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	return cmd
}

func (a *App) runRemove(name string, force bool) error {
	var removed bool
	err := a.withUnlockedVault(func(v *vault.Vault) error {
		item, err := findItem(v, name)
		if err != nil {
			return err
		}

		if !force {
			ok, err := a.confirm(fmt.Sprintf("Delete %s %q?", item.Kind.DisplayName(), item.Name), false)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}

		removed = true
		return v.DeleteItem(item.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", name, err)
	}

	if removed {
		a.success("Deleted %s", highlight(name))
	} else {
		fmt.Fprintln(a.Out, "Cancelled.")
	}
	return nil
}
