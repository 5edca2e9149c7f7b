package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/util"
	"github.com/vault-cli/chamber/internal/vault"
)

func newAddCommand(app *App) *cobra.Command {
	var (
		kind  string
		value string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new item to the vault",
		Long: `Add a new item with the given name and kind. The value is prompted for
without echo unless --value is given.

Kinds: password, env, note, apikey, sshkey, certificate, database
(aliases such as pwd, token, ssh, cert and db are accepted).

Example:
  chamber add github --kind password
  chamber add DATABASE_URL --kind env --value postgres://localhost/app`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runAdd(args[0], kind, value, cmd.Flags().Changed("value"))
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(domain.KindPassword), "item kind")
	cmd.Flags().StringVar(&value, "value", "", "item value (prompted when omitted)")
	return cmd
}

func (a *App) runAdd(name, rawKind, value string, valueSet bool) error {
	kind, err := domain.ParseItemKind(rawKind)
	if err != nil {
		return util.InvalidInput("%v", err)
	}
	if name == "" {
		return util.InvalidInput("item name cannot be empty")
	}

	if !valueSet {
		if value, err = a.promptSecret("Value: "); err != nil {
			return err
		}
	}
	if value == "" {
		return util.InvalidInput("value cannot be empty")
	}

	var id int64
	err = a.withUnlockedVault(func(v *vault.Vault) error {
		id, err = v.CreateItem(domain.NewItem{Name: name, Kind: kind, Value: value})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add %q: %w", name, err)
	}

	a.success("Added %s %s", kind.DisplayName(), highlight(name))
	a.log.Info().Int64("item_id", id).Msg("item added")
	return nil
}
