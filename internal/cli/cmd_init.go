package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sevdimali/rotki/internal/config"
	"github.com/sevdimali/rotki/internal/storage"
)

const defaultInitConfig = `[data]
# dir = ""
# user = ""

[database]
operation_timeout = "5m"

[logging]
level = "info"
file = ""
max_size_mb = 10
max_files = 5
`

func newInitCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new encrypted user database and a default config",
		Example: "  ROTKI_PASSPHRASE=... rotki-db --user alice init\n" +
			"  printf '%s\\n' \"$PASS\" | rotki-db --user alice --passphrase-stdin init",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("init does not accept positional arguments")
			}

			cfg, err := loadCommandConfig(deps)
			if err != nil {
				return mapCommandError(fmt.Errorf("load config: %w", err))
			}
			userDir, err := cfg.UserDir()
			if err != nil {
				return usageErrorf("select a user with --user, ROTKI_USER or data.user in the config file")
			}
			dbPath := filepath.Join(userDir, storage.DatabaseFileName)
			if _, err := os.Stat(dbPath); err == nil {
				return usageErrorf("database already exists: %s", dbPath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return mapCommandError(err)
			}

			configPath, err := config.ResolvePath(config.LoadOptions{ConfigPath: deps.globals.ConfigPath})
			if err != nil {
				return mapCommandError(err)
			}

			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			err = withStore(cmd, deps, passphrases[0], func(_ context.Context, _ *session) error {
				return nil
			})
			if err != nil {
				return err
			}

			if err := writeDefaultConfig(configPath, deps.globals.Yes); err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, map[string]any{
					"initialized":   true,
					"user":          cfg.Data.User,
					"database_path": dbPath,
					"config_path":   configPath,
				}))
			}
			if deps.globals.Quiet {
				return nil
			}
			if _, err := fmt.Fprintf(deps.out, "created database: %s\n", dbPath); err != nil {
				return mapCommandError(err)
			}
			_, err = fmt.Fprintf(deps.out, "config: %s\n", configPath)
			return mapCommandError(err)
		},
	}
}

// writeDefaultConfig leaves an existing file alone unless overwrite is set.
func writeDefaultConfig(path string, overwrite bool) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: config path is required", config.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("init: create config directory: %w", err)
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("init: stat config path: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultInitConfig), 0o600); err != nil {
		return fmt.Errorf("init: write config: %w", err)
	}
	return nil
}
