package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/bullion/config"
)

var rootCmd = &cobra.Command{
	Use:   "bullion",
	Short: "Single-instrument trading decision engine",
	Long: `Bullion runs a risk-gated trading decision engine for one instrument.

It provides tools for:
  - Backtesting the engine against historical candles
  - Writing and validating configuration files
  - Querying the trade journal

Secrets such as the Telegram token are read from the environment or a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return fmt.Errorf("load env: %w", err)
		}
		return nil
	},
}

var envFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded before any command runs (ignored when missing)")
}
