// Command tradectl is the operator CLI: exchange connectivity checks, account
// and market lookups, and access-key hashing for the API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trade-setup-assistant/config"
	"trade-setup-assistant/internal/exchange"
	"trade-setup-assistant/internal/logging"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	exitSuccess = 0
	exitFailure = 1
	exitError   = 2
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	configPath string
	jsonOutput bool
	apiKey     string
	secretKey  string
	timeout    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errChecksFailed) {
			os.Exit(exitFailure)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tradectl",
		Short:         "Operator tools for the trade setup assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetDefault(logging.New(&logging.Config{Level: "WARN", Output: "stderr", Component: "tradectl"}))
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "config file")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(
		newDiagnoseCmd(),
		newAccountCmd(),
		newSymbolsCmd(),
		newPriceCmd(),
		newSignCmd(),
		newHashAccessKeyCmd(),
	)
	return root
}

// credentialFlags adds --api-key/--secret-key, falling back to MEXC_API_KEY
// and MEXC_SECRET_KEY so keys need not appear in shell history
func credentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&apiKey, "api-key", "", "exchange API key (default $MEXC_API_KEY)")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "exchange secret key (default $MEXC_SECRET_KEY)")
}

func credentials() exchange.Credentials {
	creds := exchange.Credentials{APIKey: apiKey, SecretKey: secretKey}
	if creds.APIKey == "" {
		creds.APIKey = os.Getenv("MEXC_API_KEY")
	}
	if creds.SecretKey == "" {
		creds.SecretKey = os.Getenv("MEXC_SECRET_KEY")
	}
	return creds
}

func loadClient() (exchange.ExchangeClient, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ExchangeConfig.MockMode {
		return exchange.NewMockClient(), nil
	}
	return exchange.NewClient(exchange.Config{
		BaseURL:    cfg.ExchangeConfig.BaseURL,
		QuoteAsset: cfg.ExchangeConfig.QuoteAsset,
		RecvWindow: cfg.ExchangeConfig.RecvWindow,
		Timeout:    time.Duration(cfg.ExchangeConfig.TimeoutSeconds) * time.Second,
	}), nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
