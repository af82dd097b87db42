// Package cmd implements the thin operator-facing CLI (SPEC_FULL.md §9),
// grounded on the teacher's cmd/root.go persistent-flag + subcommand
// layout. It is explicitly outside the core's tested surface (spec.md §1
// Non-goals: "terminal UI ... CLI arg parsing ... excluded"), wired here
// only to exercise the config/capture/callstore/observer packages end to
// end the way an operator would.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sipwatch",
	Short: "sipwatch observes SIP signaling traffic and correlates it into calls",
	Long: `sipwatch ingests packets from a live device, a trace file, or a HEP
listener, reconstructs the SIP dialogs carried inside, and logs storage
stats and capture status to stdout.`,
	Version: "0.1.0",
}

// Execute runs the root command. Called from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "sipwatch.yaml",
		"config file path")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
