package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newSettingsCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change user settings",
	}
	cmd.AddCommand(newSettingsShowCommand(deps))
	cmd.AddCommand(newSettingsSetCommand(deps))
	return cmd
}

func newSettingsShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print all settings, defaults included",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				settings, err := sess.store.Settings(ctx)
				if err != nil {
					return err
				}
				currency, err := sess.store.MainCurrency(ctx)
				if err != nil {
					return err
				}
				return outputValue(deps.out, deps.globals.JSON, map[string]any{
					"settings":      settings,
					"main_currency": currency,
				}, func(w io.Writer) error {
					rows := []struct {
						key   string
						value any
					}{
						{"version", settings.DBVersion},
						{"last_write_ts", settings.LastWriteTS},
						{"last_data_upload_ts", settings.LastDataUploadTS},
						{"premium_should_sync", settings.PremiumShouldSync},
						{"ui_floating_precision", settings.UIFloatingPrecision},
						{"historical_data_start", settings.HistoricalDataStart},
						{"eth_rpc_port", settings.EthRPCPort},
						{"main_currency", currency},
					}
					for _, row := range rows {
						if _, err := fmt.Fprintf(w, "%s=%v\n", row.key, row.value); err != nil {
							return err
						}
					}
					extra := make([]string, 0, len(settings.Extra))
					for key := range settings.Extra {
						if key == "main_currency" {
							continue
						}
						extra = append(extra, key)
					}
					sort.Strings(extra)
					for _, key := range extra {
						if _, err := fmt.Fprintf(w, "%s=%s\n", key, settings.Extra[key]); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

func newSettingsSetCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "set KEY VALUE",
		Short:   "Change one setting",
		Example: "  rotki-db --user alice settings set ui_floating_precision 4",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("settings set requires KEY and VALUE")
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				if args[0] == "main_currency" {
					err = sess.store.SetMainCurrency(ctx, args[1])
				} else {
					err = sess.store.SetSettings(ctx, map[string]string{args[0]: args[1]})
				}
				if err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "updated %s\n", args[0])
				return err
			})
		},
	}
}
