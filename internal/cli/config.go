package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/config"
	"github.com/vault-cli/chamber/internal/util"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage chamber configuration",
		Long: `Manage configuration settings.

Configuration is stored in $XDG_CONFIG_HOME/chamber/config.yaml by default,
or in the file named by $` + config.EnvConfigPath + `.

Example:
  chamber config path                       # Show config file path
  chamber config get clipboard_ttl          # Get clipboard timeout
  chamber config set clipboard_ttl 60s      # Set clipboard timeout
  chamber config set storage_driver bolt    # Store new vaults in bbolt
  chamber config get                        # Show all configuration`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Get configuration value(s)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) == 0 {
					return app.runConfigGetAll()
				}
				return app.runConfigGet(args[0])
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set configuration value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.runConfigSet(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := app.configPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Out, path)
				return nil
			},
		},
	)
	return cmd
}

type configKey struct {
	get func(c *config.Config) string
	set func(c *config.Config, v string) error
}

func parseDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	return d, nil
}

func parseUint32(v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value: %w", err)
	}
	return uint32(n), nil
}

var configKeys = map[string]configKey{
	"vault_path": {
		get: func(c *config.Config) string { return c.VaultPath },
		set: func(c *config.Config, v string) error { c.VaultPath = v; return nil },
	},
	"registry_path": {
		get: func(c *config.Config) string { return c.RegistryPath },
		set: func(c *config.Config, v string) error { c.RegistryPath = v; return nil },
	},
	"storage_driver": {
		get: func(c *config.Config) string { return c.StorageDriver },
		set: func(c *config.Config, v string) error { c.StorageDriver = v; return nil },
	},
	"kdf.memory": {
		get: func(c *config.Config) string { return strconv.FormatUint(uint64(c.KDF.Memory), 10) },
		set: func(c *config.Config, v string) (err error) { c.KDF.Memory, err = parseUint32(v); return },
	},
	"kdf.iterations": {
		get: func(c *config.Config) string { return strconv.FormatUint(uint64(c.KDF.Iterations), 10) },
		set: func(c *config.Config, v string) (err error) { c.KDF.Iterations, err = parseUint32(v); return },
	},
	"kdf.parallelism": {
		get: func(c *config.Config) string { return strconv.FormatUint(uint64(c.KDF.Parallelism), 10) },
		set: func(c *config.Config, v string) (err error) { c.KDF.Parallelism, err = parseUint32(v); return },
	},
	"auto_lock.enabled": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.AutoLock.Enabled) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %w", err)
			}
			c.AutoLock.Enabled = b
			return nil
		},
	},
	"auto_lock.inactivity_timeout": {
		get: func(c *config.Config) string { return c.AutoLock.InactivityTimeout.String() },
		set: func(c *config.Config, v string) (err error) { c.AutoLock.InactivityTimeout, err = parseDuration(v); return },
	},
	"auto_lock.check_interval": {
		get: func(c *config.Config) string { return c.AutoLock.CheckInterval.String() },
		set: func(c *config.Config, v string) (err error) { c.AutoLock.CheckInterval, err = parseDuration(v); return },
	},
	"clipboard_ttl": {
		get: func(c *config.Config) string { return c.ClipboardTTL.String() },
		set: func(c *config.Config, v string) (err error) { c.ClipboardTTL, err = parseDuration(v); return },
	},
	"log_level": {
		get: func(c *config.Config) string { return c.LogLevel },
		set: func(c *config.Config, v string) error { c.LogLevel = strings.ToLower(v); return nil },
	},
	"unlock_rate.per_second": {
		get: func(c *config.Config) string { return strconv.FormatFloat(c.UnlockRate.PerSecond, 'g', -1, 64) },
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid number: %w", err)
			}
			c.UnlockRate.PerSecond = f
			return nil
		},
	},
	"unlock_rate.burst": {
		get: func(c *config.Config) string { return strconv.Itoa(c.UnlockRate.Burst) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			c.UnlockRate.Burst = n
			return nil
		},
	},
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

func (a *App) configPath() (string, error) {
	if a.ConfigPath != "" {
		return a.ConfigPath, nil
	}
	return config.DefaultPath()
}

func (a *App) runConfigGetAll() error {
	path, err := a.configPath()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Configuration file: %s\n\n", path)

	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.Out, "%s: %s\n", k, configKeys[k].get(a.cfg))
	}
	return nil
}

func (a *App) runConfigGet(key string) error {
	k, ok := configKeys[normalizeKey(key)]
	if !ok {
		return util.InvalidInput("unknown configuration key: %s", key)
	}
	fmt.Fprintln(a.Out, k.get(a.cfg))
	return nil
}

func (a *App) runConfigSet(key, value string) error {
	k, ok := configKeys[normalizeKey(key)]
	if !ok {
		return util.InvalidInput("unknown configuration key: %s", key)
	}

	updated := *a.cfg
	if err := k.set(&updated, value); err != nil {
		return util.InvalidInput("%s: %v", key, err)
	}
	if err := updated.Validate(); err != nil {
		return util.InvalidInput("%v", err)
	}

	path, err := a.configPath()
	if err != nil {
		return err
	}
	if err := config.SaveConfig(&updated, path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	*a.cfg = updated

	a.success("Configuration updated: %s = %s", normalizeKey(key), value)
	return nil
}
