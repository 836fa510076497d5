package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// client is the admin API client, initialized in PersistentPreRunE.
	client *adminClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the planetd admin endpoint address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for planetctl.
var rootCmd = &cobra.Command{
	Use:   "planetctl",
	Short: "CLI client for the planetd master server",
	Long:  "planetctl talks to the planetd admin HTTP endpoint to inspect and manage connected clients and sessions.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = newAdminClient(serverAddr)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:9101",
		"planetd admin endpoint address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
