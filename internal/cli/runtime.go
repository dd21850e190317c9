package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/sevdimali/rotki/internal/config"
	applog "github.com/sevdimali/rotki/internal/log"
	"github.com/sevdimali/rotki/internal/storage"
)

const (
	envPassphrase    = "ROTKI_PASSPHRASE"
	envNewPassphrase = "ROTKI_NEW_PASSPHRASE"
)

var (
	loadConfigFn = config.Load
	openStoreFn  = storage.Open
)

type session struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.Store
}

// withStore opens the selected user's database for the duration of fn. The
// passphrase is wiped once the store is open.
func withStore(cmd *cobra.Command, deps commandDeps, passphrase []byte, fn func(context.Context, *session) error) error {
	defer memguard.WipeBytes(passphrase)

	cfg, err := loadCommandConfig(deps)
	if err != nil {
		return mapCommandError(fmt.Errorf("load config: %w", err))
	}
	userDir, err := cfg.UserDir()
	if err != nil {
		return usageErrorf("select a user with --user, ROTKI_USER or data.user in the config file")
	}

	logger, closer, err := newCommandLogger(cfg, deps)
	if err != nil {
		return mapCommandError(fmt.Errorf("set up logging: %w", err))
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Database.OperationTimeout)
	defer cancel()

	store, err := openStoreFn(ctx, userDir, cfg.Data.User, passphrase, storage.Options{Logger: logger})
	if err != nil {
		return mapCommandError(err)
	}
	defer func() {
		if store.Connected() {
			if err := store.Close(); err != nil {
				logger.Warn("close database failed", "error", err)
			}
		}
	}()

	return mapCommandError(fn(ctx, &session{cfg: cfg, logger: logger, store: store}))
}

func loadCommandConfig(deps commandDeps) (config.Config, error) {
	opts := config.LoadOptions{}
	if deps.globals == nil {
		return loadConfigFn(opts)
	}
	if configPath := strings.TrimSpace(deps.globals.ConfigPath); configPath != "" {
		opts.ConfigPath = configPath
	}
	if dataDir := strings.TrimSpace(deps.globals.DataDir); dataDir != "" {
		opts.Flags.DataDir = &dataDir
	}
	if user := strings.TrimSpace(deps.globals.User); user != "" {
		opts.Flags.User = &user
	}
	return loadConfigFn(opts)
}

func newCommandLogger(cfg config.Config, deps commandDeps) (*slog.Logger, io.Closer, error) {
	level := cfg.Logging.Level
	if deps.globals != nil && deps.globals.Quiet {
		level = "error"
	}
	return applog.NewLogger(applog.Options{
		Level: level,
		JSON:  deps.globals != nil && deps.globals.JSON,
		Rotation: applog.RotationConfig{
			File:      cfg.Logging.File,
			MaxSizeMB: cfg.Logging.MaxSizeMB,
			MaxFiles:  cfg.Logging.MaxFiles,
		},
	}, deps.errOut)
}

// readPassphrases returns one passphrase per env key. With --passphrase-stdin
// they are read as consecutive lines of stdin instead, in the same order.
func readPassphrases(cmd *cobra.Command, deps commandDeps, envKeys ...string) ([][]byte, error) {
	out := make([][]byte, 0, len(envKeys))
	if deps.globals != nil && deps.globals.PassphraseStdin {
		reader := bufio.NewReader(cmd.InOrStdin())
		for range envKeys {
			line, err := reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, mapCommandError(fmt.Errorf("read passphrase from stdin: %w", err))
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				return nil, usageErrorf("--passphrase-stdin requires %d non-empty line(s) on stdin", len(envKeys))
			}
			out = append(out, []byte(line))
		}
		return out, nil
	}

	for _, key := range envKeys {
		value, ok := deps.lookupEnv(key)
		if !ok || value == "" {
			return nil, usageErrorf("set %s or use --passphrase-stdin", key)
		}
		out = append(out, []byte(value))
	}
	return out, nil
}

func outputValue(w io.Writer, asJSON bool, value any, text func(io.Writer) error) error {
	if asJSON {
		return printJSON(w, value)
	}
	return text(w)
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
