// Package cli implements the zuvachat command line client.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the zuvachat command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zuvachat",
		Short: "zuvachat - ask questions and follow streamed answers",
		Long: `Ask questions of the chat service and follow the answer as it streams in.

Answers are delivered through the zuvachat server over WebSocket, or read
directly from the chat API with --direct. Finished answers can be exported
as one row per line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newAskCmd())
	root.AddCommand(newExportCmd())

	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
