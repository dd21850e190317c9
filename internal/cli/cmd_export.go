package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

func newExportCommand(deps commandDeps) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an unencrypted SQLite copy of the database",
		Long: "Write an unencrypted SQLite copy of the database to --out. The copy holds " +
			"exchange secrets in plaintext; the destination must not exist.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(out) == "" {
				return usageErrorf("export requires --out")
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				if err := sess.store.ExportUnencrypted(ctx, out); err != nil {
					return err
				}
				if deps.globals.Quiet {
					return nil
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]string{"exported": out})
				}
				_, err := fmt.Fprintf(deps.out, "exported unencrypted copy: %s\n", out)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Destination path for the plaintext copy")
	return cmd
}

// newImportCommand reads two passphrases: the current one to open the store
// and the one the imported database is encrypted under.
func newImportCommand(deps commandDeps) *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the database with an unencrypted SQLite file",
		Long: "Replace the database with the unencrypted SQLite file at --in, encrypted under " +
			envNewPassphrase + ". The previous file is kept as a backup until the import is verified.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(in) == "" {
				return usageErrorf("import requires --in")
			}
			if !deps.globals.Yes {
				return usageErrorf("import replaces the whole database; rerun with --yes")
			}
			data, err := os.ReadFile(in)
			if err != nil {
				return mapCommandError(fmt.Errorf("read import file: %w", err))
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase, envNewPassphrase)
			if err != nil {
				return err
			}
			newPassphrase := passphrases[1]
			defer memguard.WipeBytes(newPassphrase)

			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				if err := sess.store.ImportUnencrypted(ctx, data, newPassphrase); err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "imported %s into %s\n", in, sess.store.Path())
				return err
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Unencrypted SQLite file to import")
	return cmd
}

func newReimportCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "reimport",
		Short: "Rebuild every table from its own contents",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !deps.globals.Yes {
				return usageErrorf("reimport rewrites every table; rerun with --yes")
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				if err := sess.store.ReimportAllTables(ctx); err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err := fmt.Fprintln(deps.out, "reimported all tables")
				return err
			})
		},
	}
}

func newDropHistoryCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-history",
		Short: "Delete all saved balance and location snapshots",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !deps.globals.Yes {
				return usageErrorf("drop-history deletes all snapshots; rerun with --yes")
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				if err := sess.store.DropTimeSeries(ctx); err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err := fmt.Fprintln(deps.out, "dropped balance history")
				return err
			})
		},
	}
}
