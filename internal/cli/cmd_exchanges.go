package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sevdimali/rotki/internal/exchange"
	"github.com/sevdimali/rotki/internal/storage"
)

const (
	envAPIKey    = "ROTKI_API_KEY"
	envAPISecret = "ROTKI_API_SECRET"
)

func newExchangesCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchanges",
		Short: "Manage stored exchange API credentials",
	}
	cmd.AddCommand(newExchangesListCommand(deps))
	cmd.AddCommand(newExchangesAddCommand(deps))
	cmd.AddCommand(newExchangesRemoveCommand(deps))
	cmd.AddCommand(&cobra.Command{
		Use:   "supported",
		Short: "List exchanges that credentials can be stored for",
		Args:  noArgs,
		RunE: func(*cobra.Command, []string) error {
			names := exchange.Supported()
			return mapCommandError(outputValue(deps.out, deps.globals.JSON, names, func(w io.Writer) error {
				for _, name := range names {
					if _, err := fmt.Fprintln(w, name); err != nil {
						return err
					}
				}
				return nil
			}))
		},
	})
	return cmd
}

// newExchangesListCommand prints exchange names only. Secrets never leave the
// store through the CLI.
func newExchangesListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List exchanges with stored credentials",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				secrets, err := sess.store.ExchangeSecrets(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(secrets))
				for name := range secrets {
					names = append(names, name)
				}
				sort.Strings(names)
				return outputValue(deps.out, deps.globals.JSON, names, func(w io.Writer) error {
					for _, name := range names {
						if _, err := fmt.Fprintln(w, name); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

func newExchangesAddCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME",
		Short: "Store API credentials for an exchange",
		Long:  "Store API credentials for an exchange. The key and secret are read from " + envAPIKey + " and " + envAPISecret + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("exchanges add requires exactly one exchange name")
			}
			apiKey, ok := deps.lookupEnv(envAPIKey)
			if !ok || apiKey == "" {
				return usageErrorf("set %s", envAPIKey)
			}
			apiSecret, ok := deps.lookupEnv(envAPISecret)
			if !ok || apiSecret == "" {
				return usageErrorf("set %s", envAPISecret)
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				err := sess.store.AddExchange(ctx, args[0], storage.ExchangeCredentials{
					APIKey:    apiKey,
					APISecret: apiSecret,
				})
				if err != nil {
					return err
				}
				sess.logger.Info("exchange credentials stored", "exchange", args[0])
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "added %s\n", args[0])
				return err
			})
		},
	}
}

func newExchangesRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete the stored credentials of an exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("exchanges remove requires exactly one exchange name")
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				if err := sess.store.RemoveExchange(ctx, args[0]); err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "removed %s\n", args[0])
				return err
			})
		},
	}
}
