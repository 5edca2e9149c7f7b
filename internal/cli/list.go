package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/util"
	"github.com/vault-cli/chamber/internal/vault"
)

type listOptions struct {
	kind   string
	search string
	json   bool
}

func newListCommand(app *App) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items in the vault",
		Long: `List item names and kinds, sorted by name. Values are never shown.

The --search flag matches name tokens joined with '+' or spaces, all of
which must appear (e.g. 'aws+prod').

Example:
  chamber list
  chamber list --kind env
  chamber list --search aws+prod --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runList(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "only items of this kind")
	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "filter by name tokens")
	cmd.Flags().BoolVar(&opts.json, "json", false, "output in JSON format")
	return cmd
}

// listEntry is the JSON shape of a listed item; values are omitted.
type listEntry struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Kind      domain.ItemKind `json:"kind"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func (a *App) runList(opts listOptions) error {
	filter := domain.Filter{Search: opts.search}
	if opts.kind != "" {
		kind, err := domain.ParseItemKind(opts.kind)
		if err != nil {
			return util.InvalidInput("%v", err)
		}
		filter.Kind = kind
	}

	var items []domain.Item
	err := a.withUnlockedVault(func(v *vault.Vault) error {
		all, err := v.ListItems()
		if err != nil {
			return err
		}
		items = filter.Apply(all)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	if opts.json {
		entries := make([]listEntry, 0, len(items))
		for _, it := range items {
			entries = append(entries, listEntry{
				ID:        it.ID,
				Name:      it.Name,
				Kind:      it.Kind,
				CreatedAt: it.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				UpdatedAt: it.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(items) == 0 {
		fmt.Fprintln(a.Out, "No items found.")
		return nil
	}
	return printItems(a, items)
}

func printItems(a *App, items []domain.Item) error {
	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tUPDATED")
	for _, it := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", it.ID, it.Name, it.Kind, formatTime(it.UpdatedAt))
	}
	return w.Flush()
}
