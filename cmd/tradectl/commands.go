package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"trade-setup-assistant/internal/exchange"
)

// errChecksFailed makes diagnose exit non-zero without printing an error
var errChecksFailed = errors.New("one or more diagnostic checks failed")

// =============================================================================
// DIAGNOSE COMMAND
// =============================================================================

func newDiagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run connectivity and credential checks against the exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			report := exchange.NewProbe(client).Run(ctx, credentials())
			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := outputJSON(out, report); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, c := range report.Checks {
					mark := "PASS"
					if !c.Passed {
						mark = "FAIL"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, c.Name, c.Message)
				}
				tw.Flush()
				fmt.Fprintf(out, "\ncompleted in %s\n", report.Duration)
			}
			if !report.Passed {
				return errChecksFailed
			}
			return nil
		},
	}
	credentialFlags(cmd)
	return cmd
}

// =============================================================================
// ACCOUNT COMMAND
// =============================================================================

func newAccountCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show spot balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			account, err := client.GetAccountInfo(ctx, credentials())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput && all {
				return outputJSON(out, account)
			}
			balances, err := account.NonZeroBalances()
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(out, balances)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "ASSET\tFREE\tLOCKED\t")
			for _, b := range balances {
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", b.Asset, trimFloat(b.Free), trimFloat(b.Locked))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "raw", false, "with --json, print the raw account response")
	credentialFlags(cmd)
	return cmd
}

// =============================================================================
// MARKET COMMANDS
// =============================================================================

func newSymbolsCmd() *cobra.Command {
	var authorized bool
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "List enabled USDT pairs, or the pairs the API key may trade",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			var symbols []string
			if authorized {
				symbols, err = client.GetAuthorizedSymbols(ctx, credentials())
			} else {
				symbols, err = client.ListSymbols(ctx)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), symbols)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(symbols, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&authorized, "authorized", false, "list the symbols authorized for the API key")
	credentialFlags(cmd)
	return cmd
}

func newPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price SYMBOL...",
		Short: "Print the last price of one or more symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			prices := make(map[string]float64, len(args))
			for _, s := range args {
				s = strings.ToUpper(s)
				p, err := client.GetPrice(ctx, s)
				if err != nil {
					return err
				}
				prices[s] = p
				if !jsonOutput {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s, trimFloat(p))
				}
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), prices)
			}
			return nil
		},
	}
}

// =============================================================================
// KEY TOOLS
// =============================================================================

func newSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign QUERY",
		Short: "Sign a query string with the secret key, for comparing against other clients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := exchange.Sign([]byte(credentials().SecretKey), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	}
}

func newHashAccessKeyCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-access-key KEY",
		Short: "Print the bcrypt hash to use as server.access_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[0]) < 12 {
				return fmt.Errorf("access key must be at least 12 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return fmt.Errorf("failed to hash access key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
