// Package main is the stewardctl binary: a small CLI against the
// steward daemon's REST API for driving streams and resolving
// approvals from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:           "stewardctl",
		Short:         "Control a running steward daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(),
		"base URL of the steward daemon")

	root.AddCommand(
		newHealthCmd(),
		newApprovalsCmd(),
		newStreamsCmd(),
		newConversationsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultServerURL() string {
	if url := os.Getenv("STEWARD_SERVER"); url != "" {
		return url
	}
	return "http://localhost:8080"
}
