// Package commands implements the nat64statectl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// apiClient is the HTTP client used by every command, initialized in
	// PersistentPreRunE.
	apiClient *httpClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin API address (host:port).
	serverAddr string
)

const clientTimeout = 10 * time.Second

// rootCmd is the top-level cobra command for nat64statectl.
var rootCmd = &cobra.Command{
	Use:   "nat64statectl",
	Short: "CLI client for the nat64stated daemon",
	Long:  "nat64statectl talks to the nat64stated admin API to inspect and manage BIB and session tables.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		apiClient = newHTTPClient("http://"+serverAddr, &http.Client{Timeout: clientTimeout})
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8062",
		"nat64stated admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(bibCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(poolCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
