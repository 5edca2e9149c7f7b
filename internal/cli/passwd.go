package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/util"
)

func newPasswdCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "passwd",
		Aliases: []string{"rotate-master-key"},
		Short:   "Change the master password",
		Long: `Change the master password while preserving all vault data.

The vault key is re-wrapped under a key derived from the new password with
fresh KDF parameters; items are not re-encrypted. The current password is
required.

For scripts, the passwords can be given in $` + EnvPassword + ` and $` + EnvNewPassword + `.

Example:
  chamber passwd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runPasswd()
		},
	}
}

func (a *App) runPasswd() error {
	t, err := a.resolveTarget()
	if err != nil {
		return err
	}

	v, err := a.openLocked(t)
	if err != nil {
		return err
	}
	defer v.Close()

	current, err := a.password("Current master password: ")
	if err != nil {
		return err
	}
	next, err := a.newPassword(EnvNewPassword, "New master password: ")
	if err != nil {
		return err
	}
	if next == current {
		return util.InvalidInput("new password must differ from the current one")
	}

	stop := a.startSpinner("Re-wrapping vault key...")
	err = v.ChangeMasterKey(current, next)
	stop()
	if err != nil {
		return fmt.Errorf("failed to change master password: %w", err)
	}

	a.success("Master password changed for %s", highlight(t.String()))
	return nil
}
