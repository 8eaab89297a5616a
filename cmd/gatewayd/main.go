// Command gatewayd runs the lock-and-mint gateway service and offers a few
// read-only queries against the signing network.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "gatewayd <command>",
	Short:         "Cross-chain lock and mint gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the YAML or TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, addressCmd, shardCmd, peersCmd, statCmd)
}

func defaultConfigPath() string {
	if p := os.Getenv("MINTGATE_CONFIG"); p != "" {
		return p
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
