package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/util"
	"github.com/vault-cli/chamber/internal/vault"
)

func newUpdateCommand(app *App) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Replace an item's value",
		Long: `Replace the value of an existing item. Its name, kind and creation time
are kept. The new value is prompted for without echo unless --value is given.

Example:
  chamber update github
  chamber update API_TOKEN --value "$NEW_TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runUpdate(args[0], value, cmd.Flags().Changed("value"))
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "new value (prompted when omitted)")
	return cmd
}

func (a *App) runUpdate(name, value string, valueSet bool) error {
	if !valueSet {
		var err error
		if value, err = a.promptSecret("New value: "); err != nil {
			return err
		}
	}
	if value == "" {
		return util.InvalidInput("value cannot be empty")
	}

	err := a.withUnlockedVault(func(v *vault.Vault) error {
		item, err := findItem(v, name)
		if err != nil {
			return err
		}
		return v.UpdateItem(item.ID, value)
	})
	if err != nil {
		return fmt.Errorf("failed to update %q: %w", name, err)
	}

	a.success("Updated %s", highlight(name))
	return nil
}
