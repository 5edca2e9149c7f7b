// Package cli implements the chamber command line.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/clipboard"
	"github.com/vault-cli/chamber/internal/config"
	"github.com/vault-cli/chamber/internal/logging"
	"github.com/vault-cli/chamber/internal/registry"
)

// Version is set at build time
var Version = "dev"

// App carries the state shared by every command of one invocation.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	ConfigPath string
	VaultPath  string
	Verbose    bool
	Debug      bool

	cfg      *config.Config
	log      zerolog.Logger
	registry *registry.Registry
	manager  *registry.Manager
	clip     clipboard.Backend
	reader   *bufio.Reader

	// readSecret reads a line without echo; nil uses the terminal or In
	readSecret func(prompt string) (string, error)
}

// NewApp returns an App bound to the given streams.
func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{
		In:   in,
		Out:  out,
		Err:  errOut,
		log:  zerolog.Nop(),
		clip: clipboard.System,
	}
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "chamber",
		Short: "A local encrypted secrets vault",
		Long: `chamber keeps passwords, API keys, environment variables and other
secrets in an encrypted file on your machine.

Items are encrypted with XChaCha20-Poly1305 under a random vault key, which is
itself wrapped by a key derived from your master password with Argon2id.
Nothing ever leaves the local disk.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
	}
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&app.ConfigPath, "config", "", "config file (default is $XDG_CONFIG_HOME/chamber/config.yaml, or $"+config.EnvConfigPath+")")
	flags.StringVar(&app.VaultPath, "vault", "", "vault file path, bypassing the registry")
	flags.BoolVarP(&app.Verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&app.Debug, "debug", false, "debug logging")

	root.AddCommand(
		newInitCommand(app),
		newStatusCommand(app),
		newAddCommand(app),
		newGetCommand(app),
		newListCommand(app),
		newUpdateCommand(app),
		newRemoveCommand(app),
		newPasswdCommand(app),
		newVaultsCommand(app),
		newConfigCommand(app),
		newShellCommand(app),
		newDoctorCommand(app),
		newStatsCommand(app),
	)
	return root
}

// Execute runs the command line against the process streams.
func Execute(ctx context.Context) error {
	return NewApp(os.Stdin, os.Stdout, os.Stderr).Run(ctx, os.Args[1:])
}

// Run executes args and locks every vault the command unlocked, whether or
// not it succeeded.
func (a *App) Run(ctx context.Context, args []string) error {
	root := NewRootCommand(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if cerr := a.teardown(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) setup() error {
	cfg, err := config.LoadConfig(a.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	a.log = logging.New(a.Err, logging.Options{
		Level:   cfg.LogLevel,
		Verbose: a.Verbose,
		Debug:   a.Debug,
	})

	reg, err := registry.Load(cfg.RegistryPath, a.log)
	if err != nil {
		return err
	}
	a.registry = reg
	a.manager = registry.NewManager(reg, cfg.ManagerOptions(a.log)...)
	return nil
}

func (a *App) teardown() error {
	if a.manager == nil {
		return nil
	}
	return a.manager.CloseAll()
}

func (a *App) lineReader() *bufio.Reader {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.In)
	}
	return a.reader
}
