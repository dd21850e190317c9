package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newAccountsCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage tracked blockchain accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts grouped by blockchain",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				accounts, err := sess.store.BlockchainAccounts(ctx)
				if err != nil {
					return err
				}
				return outputValue(deps.out, deps.globals.JSON, accounts, func(w io.Writer) error {
					chains := make([]string, 0, len(accounts))
					for chain := range accounts {
						chains = append(chains, chain)
					}
					sort.Strings(chains)
					for _, chain := range chains {
						for _, account := range accounts[chain] {
							if _, err := fmt.Fprintf(w, "%s\t%s\n", chain, account); err != nil {
								return err
							}
						}
					}
					return nil
				})
			})
		},
	})
	cmd.AddCommand(newAccountMutationCommand(deps, "add", "Track an account"))
	cmd.AddCommand(newAccountMutationCommand(deps, "remove", "Stop tracking an account"))
	return cmd
}

func newAccountMutationCommand(deps commandDeps, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:     verb + " BLOCKCHAIN ACCOUNT",
		Short:   short,
		Example: "  rotki-db --user alice accounts " + verb + " ETH 0x9531c059098e3d194ff87febb587ab07b30b1306",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("accounts %s requires BLOCKCHAIN and ACCOUNT", verb)
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				var err error
				if verb == "add" {
					err = sess.store.AddBlockchainAccount(ctx, args[0], args[1])
				} else {
					err = sess.store.RemoveBlockchainAccount(ctx, args[0], args[1])
				}
				if err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "%s %s account %s\n", pastTense(verb), args[0], args[1])
				return err
			})
		},
	}
}

func pastTense(verb string) string {
	if verb == "add" {
		return "added"
	}
	return "removed"
}

func newIgnoredAssetsCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignored-assets",
		Short: "Manage assets excluded from balances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ignored assets",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				assets, err := sess.store.IgnoredAssets(ctx)
				if err != nil {
					return err
				}
				return outputValue(deps.out, deps.globals.JSON, assets, func(w io.Writer) error {
					for _, asset := range assets {
						if _, err := fmt.Fprintln(w, asset); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	})
	for _, verb := range []string{"add", "remove"} {
		cmd.AddCommand(&cobra.Command{
			Use:   verb + " ASSET",
			Short: "Ignore or stop ignoring an asset",
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) != 1 {
					return usageErrorf("ignored-assets %s requires exactly one asset", verb)
				}
				passphrases, err := readPassphrases(cmd, deps, envPassphrase)
				if err != nil {
					return err
				}
				return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
					if verb == "add" {
						return sess.store.AddIgnoredAsset(ctx, args[0])
					}
					return sess.store.RemoveIgnoredAsset(ctx, args[0])
				})
			},
		})
	}
	return cmd
}
