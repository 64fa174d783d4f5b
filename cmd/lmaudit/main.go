// Package main implements the lmaudit CLI for running audits against an lmauditd server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the lmauditd HTTP server
	serverURL string
	// jsonOutput prints raw JSON instead of tables
	jsonOutput bool
	// requestTimeout bounds each HTTP call
	requestTimeout time.Duration

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lmaudit",
	Short: "CLI for the lmauditd legal metrology audit server",
	Long: `lmaudit is a command-line interface for the lmauditd server.
It submits product audits, follows bulk audit tasks and queries stored reports.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "lmauditd server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON output")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 2*time.Minute, "per-request timeout")
	rootCmd.AddCommand(healthCmd)
}

func newClient() *Client {
	return NewClient(serverURL, requestTimeout)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check lmauditd server health",
	Long: `Check the health status of the lmauditd HTTP server.

Examples:
  # Check health
  lmaudit health

  # Check health on a different server
  lmaudit health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, _ []string) error {
	resp, err := newClient().Health(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
