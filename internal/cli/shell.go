package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/autolock"
	"github.com/vault-cli/chamber/internal/clipboard"
	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/util"
	"github.com/vault-cli/chamber/internal/vault"
)

const shellHelp = `Commands:
  list [kind]              list items
  get <name>               print a value
  copy <name>              copy a value to the clipboard
  add <name> <kind> [value]
  update <name> [value]
  rm <name>
  lock                     lock the vault
  unlock                   unlock the vault
  status                   show lock state and time until auto-lock
  help
  exit`

func newShellCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long: `Unlock the vault once and run several commands against it. The vault is
locked automatically after the configured inactivity timeout and can be
unlocked again with 'unlock'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runShell(cmd.Context())
		},
	}
}

type shell struct {
	app     *App
	sess    session
	target  target
	tracker *autolock.Tracker
}

func (a *App) runShell(ctx context.Context) error {
	t, err := a.resolveTarget()
	if err != nil {
		return err
	}
	sess, err := a.newSession(t)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			a.log.Warn().Err(cerr).Msg("failed to close vault")
		}
	}()

	if err := a.unlockSession(sess); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sh := &shell{
		app:     a,
		sess:    sess,
		target:  t,
		tracker: autolock.NewTracker(a.cfg.AutoLock),
	}
	svc := autolock.NewService(sh.tracker, sh.autoLock, a.log)
	go svc.Run(ctx)

	fmt.Fprintf(a.Out, "Unlocked %s. Type 'help' for commands.\n", highlight(t.String()))
	return sh.loop(ctx)
}

func (sh *shell) autoLock() error {
	unlocked, err := sh.isUnlocked()
	if err != nil || !unlocked {
		return err
	}
	if err := sh.sess.Lock(); err != nil {
		return err
	}
	fmt.Fprintln(sh.app.Err, "\n"+warnText("Vault locked after inactivity. Type 'unlock' to continue."))
	return nil
}

func (sh *shell) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := sh.app.readLine("chamber> ")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(sh.app.Out)
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		sh.tracker.Touch()

		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		if err := sh.dispatch(ctx, fields[0], fields[1:]); err != nil {
			util.PrintError(sh.app.Err, err, "")
			if errors.Is(err, vault.ErrLocked) {
				fmt.Fprintln(sh.app.Err, "Type 'unlock' to continue.")
			}
		}
	}
}

func (sh *shell) dispatch(ctx context.Context, name string, args []string) error {
	a := sh.app
	switch name {
	case "help", "?":
		fmt.Fprintln(a.Out, shellHelp)
		return nil

	case "lock":
		if err := sh.sess.Lock(); err != nil {
			return err
		}
		fmt.Fprintln(a.Out, "Vault locked.")
		return nil

	case "unlock":
		if err := a.unlockSession(sh.sess); err != nil {
			return err
		}
		a.success("Vault unlocked")
		return nil

	case "status":
		return sh.status()

	case "list", "ls":
		var filter domain.Filter
		if len(args) > 0 {
			kind, err := domain.ParseItemKind(args[0])
			if err != nil {
				return util.InvalidInput("%v", err)
			}
			filter.Kind = kind
		}
		return sh.sess.Do(func(v *vault.Vault) error {
			items, err := v.ListItems()
			if err != nil {
				return err
			}
			items = filter.Apply(items)
			if len(items) == 0 {
				fmt.Fprintln(a.Out, "No items found.")
				return nil
			}
			return printItems(a, items)
		})

	case "get", "copy":
		if len(args) != 1 {
			return util.InvalidInput("usage: %s <name>", name)
		}
		var value string
		err := sh.sess.Do(func(v *vault.Vault) error {
			item, err := findItem(v, args[0])
			if err != nil {
				return err
			}
			value = item.Value
			return nil
		})
		if err != nil {
			return err
		}
		if name == "get" {
			fmt.Fprintln(a.Out, value)
			return nil
		}
		if _, err := clipboard.CopyWithTimeout(ctx, a.clip, value, a.cfg.ClipboardTTL); err != nil {
			return err
		}
		a.success("Copied %s to clipboard", highlight(args[0]))
		return nil

	case "add":
		if len(args) < 2 || len(args) > 3 {
			return util.InvalidInput("usage: add <name> <kind> [value]")
		}
		kind, err := domain.ParseItemKind(args[1])
		if err != nil {
			return util.InvalidInput("%v", err)
		}
		value, err := sh.valueArg(args[2:], "Value: ")
		if err != nil {
			return err
		}
		err = sh.sess.Do(func(v *vault.Vault) error {
			_, err := v.CreateItem(domain.NewItem{Name: args[0], Kind: kind, Value: value})
			return err
		})
		if err != nil {
			return err
		}
		a.success("Added %s %s", kind.DisplayName(), highlight(args[0]))
		return nil

	case "update":
		if len(args) < 1 || len(args) > 2 {
			return util.InvalidInput("usage: update <name> [value]")
		}
		value, err := sh.valueArg(args[1:], "New value: ")
		if err != nil {
			return err
		}
		err = sh.sess.Do(func(v *vault.Vault) error {
			item, err := findItem(v, args[0])
			if err != nil {
				return err
			}
			return v.UpdateItem(item.ID, value)
		})
		if err != nil {
			return err
		}
		a.success("Updated %s", highlight(args[0]))
		return nil

	case "rm", "delete":
		if len(args) != 1 {
			return util.InvalidInput("usage: rm <name>")
		}
		err := sh.sess.Do(func(v *vault.Vault) error {
			item, err := findItem(v, args[0])
			if err != nil {
				return err
			}
			return v.DeleteItem(item.ID)
		})
		if err != nil {
			return err
		}
		a.success("Deleted %s", highlight(args[0]))
		return nil
	}

	return util.InvalidInput("unknown command %q, type 'help'", name)
}

func (sh *shell) valueArg(args []string, prompt string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	value, err := sh.app.promptSecret(prompt)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", util.InvalidInput("value cannot be empty")
	}
	return value, nil
}

// isUnlocked reports whether the session currently holds a vault key.
func (sh *shell) isUnlocked() (bool, error) {
	unlocked := false
	err := sh.sess.Do(func(v *vault.Vault) error {
		unlocked = v.IsUnlocked()
		return nil
	})
	if errors.Is(err, vault.ErrLocked) {
		return false, nil
	}
	return unlocked, err
}

func (sh *shell) status() error {
	a := sh.app
	unlocked, err := sh.isUnlocked()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "Vault: %s\n", sh.target)
	if unlocked {
		fmt.Fprintf(a.Out, "State: %s\n", successMark("unlocked"))
	} else {
		fmt.Fprintf(a.Out, "State: %s\n", warnText("locked"))
	}
	if remaining, ok := sh.tracker.TimeUntilLock(); ok && unlocked {
		fmt.Fprintf(a.Out, "Auto-lock in: %s\n", remaining.Round(time.Second))
	}
	return nil
}
