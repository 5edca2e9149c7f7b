package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/registry"
	"github.com/vault-cli/chamber/internal/util"
)

func newVaultsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vaults",
		Aliases: []string{"vault"},
		Short:   "Manage registered vaults",
		Long: `Manage the registry of vault files. Each vault has its own master
password; one vault is active and is used by the item commands.

Vaults are referred to by name, full id, or an id prefix of at least four
characters.

Example:
  chamber vaults list
  chamber vaults create work --category work
  chamber vaults switch work
  chamber vaults import ~/backup/vault.sqlite3 --name backup --copy
  chamber vaults update work --favorite
  chamber vaults delete old --delete-file`,
	}

	cmd.AddCommand(
		newVaultsListCommand(app),
		newVaultsCreateCommand(app),
		newVaultsSwitchCommand(app),
		newVaultsDeleteCommand(app),
		newVaultsImportCommand(app),
		newVaultsUpdateCommand(app),
	)
	return cmd
}

func newVaultsListCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered vaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runVaultsList(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func (a *App) runVaultsList(asJSON bool) error {
	vaults := a.manager.ListVaults()

	if asJSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(vaults)
	}

	if len(vaults) == 0 {
		fmt.Fprintln(a.Out, "No vaults registered. Run 'chamber init' or 'chamber vaults create'.")
		return nil
	}

	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tID\tCATEGORY\tLAST ACCESSED\tPATH")
	for _, v := range vaults {
		marker := " "
		if v.IsActive {
			marker = "*"
		}
		if v.IsFavorite {
			marker += "★"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, v.Name, shortID(v.ID), v.Category, formatTime(v.LastAccessed), v.Path)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newVaultsCreateCommand(app *App) *cobra.Command {
	var (
		opts     registry.CreateOptions
		category string
		activate bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create and register a new vault",
		Long: `Create a new vault file, initialize it with its own master password and
add it to the registry. Without --path the file is stored next to the
registry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Category = domain.ParseVaultCategory(category)
			return app.runVaultsCreate(args[0], opts, activate)
		},
	}

	cmd.Flags().StringVar(&opts.Path, "path", "", "vault file location")
	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "description")
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryPersonal), "personal|work|team|project|testing|archive or any custom label")
	cmd.Flags().BoolVar(&activate, "switch", false, "make the new vault active")
	return cmd
}

func (a *App) runVaultsCreate(name string, opts registry.CreateOptions, activate bool) error {
	pw, err := a.newPassword(EnvPassword, "Master password for the new vault: ")
	if err != nil {
		return err
	}

	stop := a.startSpinner("Creating vault...")
	info, err := a.manager.CreateVault(name, opts, pw)
	stop()
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	if activate {
		if err := a.manager.SwitchActiveVault(info.ID); err != nil {
			return err
		}
	}

	a.success("Created vault %s (%s) at %s", highlight(info.Name), shortID(info.ID), info.Path)
	return nil
}

func newVaultsSwitchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <vault>",
		Short: "Make a vault active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := app.manager.Resolve(args[0])
			if err != nil {
				return err
			}
			if err := app.manager.SwitchActiveVault(info.ID); err != nil {
				return err
			}
			app.success("Active vault is now %s", highlight(info.Name))
			return nil
		},
	}
}

func newVaultsDeleteCommand(app *App) *cobra.Command {
	var (
		deleteFile bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "delete <vault>",
		Short: "Remove a vault from the registry",
		Long: `Remove a vault from the registry. The file is kept unless --delete-file
is given. The last remaining vault cannot be removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runVaultsDelete(args[0], deleteFile, force)
		},
	}

	cmd.Flags().BoolVar(&deleteFile, "delete-file", false, "also delete the vault file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	return cmd
}

func (a *App) runVaultsDelete(ref string, deleteFile, force bool) error {
	info, err := a.manager.Resolve(ref)
	if err != nil {
		return err
	}

	if !force {
		prompt := fmt.Sprintf("Remove vault %q from the registry?", info.Name)
		if deleteFile {
			prompt = fmt.Sprintf("Remove vault %q and permanently delete %s?", info.Name, info.Path)
		}
		ok, err := a.confirm(prompt, false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.Out, "Cancelled.")
			return nil
		}
	}

	if err := a.manager.DeleteVault(info.ID, deleteFile); err != nil {
		return fmt.Errorf("failed to delete vault: %w", err)
	}
	a.success("Removed vault %s", highlight(info.Name))
	return nil
}

func newVaultsImportCommand(app *App) *cobra.Command {
	var (
		name     string
		category string
		copyFile bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Register an existing vault file",
		Long: `Register an existing vault file. With --copy the file is copied next to
the registry first and the original is left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return util.InvalidInput("--name is required")
			}
			info, err := app.manager.ImportVault(args[0], name, domain.ParseVaultCategory(category), copyFile)
			if err != nil {
				return fmt.Errorf("failed to import vault: %w", err)
			}
			app.success("Imported vault %s (%s)", highlight(info.Name), shortID(info.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryPersonal), "vault category")
	cmd.Flags().BoolVar(&copyFile, "copy", false, "copy the file into the managed directory")
	return cmd
}

func newVaultsUpdateCommand(app *App) *cobra.Command {
	var (
		name        string
		description string
		category    string
		favorite    bool
	)

	cmd := &cobra.Command{
		Use:   "update <vault>",
		Short: "Change a vault's name, description, category or favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.VaultInfoPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("category") {
				c := domain.ParseVaultCategory(category)
				patch.Category = &c
			}
			if flags.Changed("favorite") {
				patch.Favorite = &favorite
			}
			if patch == (domain.VaultInfoPatch{}) {
				return util.InvalidInput("nothing to update")
			}
			return app.runVaultsUpdate(args[0], patch)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "new display name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVar(&category, "category", "", "new category")
	cmd.Flags().BoolVar(&favorite, "favorite", false, "mark as favorite (--favorite=false to clear)")
	return cmd
}

func (a *App) runVaultsUpdate(ref string, patch domain.VaultInfoPatch) error {
	info, err := a.manager.Resolve(ref)
	if err != nil {
		return err
	}
	if err := a.manager.UpdateVaultInfo(info.ID, patch); err != nil {
		return fmt.Errorf("failed to update vault: %w", err)
	}
	a.success("Updated vault %s", highlight(info.Name))
	return nil
}
