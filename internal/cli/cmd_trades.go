package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sevdimali/rotki/internal/storage"
)

type tradeView struct {
	ID          int64  `json:"id"`
	Time        int64  `json:"time"`
	Location    string `json:"location"`
	Pair        string `json:"pair"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Rate        string `json:"rate"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"fee_currency"`
	Link        string `json:"link,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func newTradeView(t storage.ExternalTrade) tradeView {
	return tradeView{
		ID:          t.ID,
		Time:        t.Time,
		Location:    t.Location,
		Pair:        t.Pair,
		Type:        string(t.Type),
		Amount:      t.Amount.String(),
		Rate:        t.Rate.String(),
		Fee:         t.Fee.String(),
		FeeCurrency: t.FeeCurrency,
		Link:        t.Link,
		Notes:       t.Notes,
	}
}

func newTradesCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Manage externally entered trades",
	}
	cmd.AddCommand(newTradesListCommand(deps))
	cmd.AddCommand(newTradesAddCommand(deps))
	cmd.AddCommand(newTradesDeleteCommand(deps))
	return cmd
}

func newTradesListCommand(deps commandDeps) *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List external trades, oldest first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				trades, err := sess.store.ExternalTrades(ctx, storage.TradeFilter{From: from, To: to})
				if err != nil {
					return err
				}
				views := make([]tradeView, 0, len(trades))
				for _, trade := range trades {
					views = append(views, newTradeView(trade))
				}
				return outputValue(deps.out, deps.globals.JSON, views, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tTIME\tPAIR\tTYPE\tAMOUNT\tRATE\tFEE")
					for _, v := range views {
						fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s %s\n",
							v.ID, v.Time, v.Pair, v.Type, v.Amount, v.Rate, v.Fee, v.FeeCurrency)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "Only trades at or after this unix time")
	cmd.Flags().Int64Var(&to, "to", 0, "Only trades at or before this unix time")
	return cmd
}

func newTradesAddCommand(deps commandDeps) *cobra.Command {
	var (
		trade                   storage.ExternalTrade
		kind, amount, rate, fee string
	)
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Record a trade made outside any supported exchange",
		Example: "  rotki-db --user alice trades add --time 1514764800 --pair ETH_EUR --type buy --amount 1 --rate 600 --fee 0.5 --fee-currency EUR",
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trade.Type = storage.TradeType(kind)
			for _, field := range []struct {
				name   string
				raw    string
				target *decimal.Decimal
			}{
				{"amount", amount, &trade.Amount},
				{"rate", rate, &trade.Rate},
				{"fee", fee, &trade.Fee},
			} {
				value, err := decimal.NewFromString(field.raw)
				if err != nil {
					return usageErrorf("--%s %q is not a number", field.name, field.raw)
				}
				*field.target = value
			}

			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				id, err := sess.store.AddExternalTrade(ctx, trade)
				if err != nil {
					return err
				}
				if deps.globals.Quiet {
					return nil
				}
				return outputValue(deps.out, deps.globals.JSON, map[string]int64{"id": id}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "added trade %d\n", id)
					return err
				})
			})
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&trade.Time, "time", 0, "Unix time of the trade")
	flags.StringVar(&trade.Pair, "pair", "", "Traded pair, e.g. ETH_EUR")
	flags.StringVar(&kind, "type", string(storage.TradeTypeBuy), "buy or sell")
	flags.StringVar(&amount, "amount", "0", "Amount of the base asset")
	flags.StringVar(&rate, "rate", "0", "Price of one base unit in the quote asset")
	flags.StringVar(&fee, "fee", "0", "Fee paid")
	flags.StringVar(&trade.FeeCurrency, "fee-currency", "", "Currency the fee was paid in")
	flags.StringVar(&trade.Link, "link", "", "Optional reference link")
	flags.StringVar(&trade.Notes, "notes", "", "Optional free text")
	return cmd
}

func newTradesDeleteCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an external trade",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("trades delete requires exactly one trade id")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return usageErrorf("trade id %q is not an integer", args[0])
			}
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				if err := sess.store.DeleteExternalTrade(ctx, id); err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "deleted trade %d\n", id)
				return err
			})
		},
	}
}

func newHistoryCommand(deps commandDeps) *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print saved net value snapshots per location",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrases, err := readPassphrases(cmd, deps, envPassphrase)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, passphrases[0], func(ctx context.Context, sess *session) error {
				data, err := sess.store.TimedLocationData(ctx, from, to)
				if err != nil {
					return err
				}
				type row struct {
					Time     int64  `json:"time"`
					Location string `json:"location"`
					USDValue string `json:"usd_value"`
				}
				rows := make([]row, 0, len(data))
				for _, d := range data {
					rows = append(rows, row{Time: d.Time, Location: d.Location, USDValue: d.USDValue.String()})
				}
				return outputValue(deps.out, deps.globals.JSON, rows, func(w io.Writer) error {
					for _, r := range rows {
						if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", r.Time, r.Location, r.USDValue); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "Only snapshots at or after this unix time")
	cmd.Flags().Int64Var(&to, "to", 0, "Only snapshots at or before this unix time")
	return cmd
}
