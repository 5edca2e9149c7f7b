package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/clipboard"
	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/vault"
)

func newGetCommand(app *App) *cobra.Command {
	var copyValue bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print or copy an item's value",
		Long: `Print the decrypted value of an item, or copy it to the clipboard with
--copy. A copied value is cleared after clipboard_ttl; the command waits for
the clear unless interrupted, which clears immediately.

Example:
  chamber get github
  chamber get github --copy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runGet(cmd.Context(), args[0], copyValue)
		},
	}

	cmd.Flags().BoolVarP(&copyValue, "copy", "c", false, "copy to clipboard instead of printing")
	return cmd
}

func (a *App) runGet(ctx context.Context, name string, copyValue bool) error {
	var item *domain.Item
	err := a.withUnlockedVault(func(v *vault.Vault) error {
		var err error
		item, err = findItem(v, name)
		return err
	})
	if err != nil {
		return err
	}

	if !copyValue {
		fmt.Fprintln(a.Out, item.Value)
		if a.Verbose {
			fmt.Fprintf(a.Err, "%s %s, created %s, updated %s\n",
				muted(item.Kind.DisplayName()), item.Name, formatTime(item.CreatedAt), formatTime(item.UpdatedAt))
		}
		return nil
	}

	done, err := clipboard.CopyWithTimeout(ctx, a.clip, item.Value, a.cfg.ClipboardTTL)
	if err != nil {
		return err
	}

	if a.cfg.ClipboardTTL > 0 {
		a.success("Copied %s to clipboard (clears in %s)", highlight(name), a.cfg.ClipboardTTL)
	} else {
		a.success("Copied %s to clipboard", highlight(name))
	}
	<-done
	return nil
}

// findItem looks an item up by name, turning absence into ErrItemNotFound.
func findItem(v *vault.Vault, name string) (*domain.Item, error) {
	item, err := v.GetItemByName(name)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %q", vault.ErrItemNotFound, name)
	}
	return item, nil
}
