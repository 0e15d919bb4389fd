package main

import (
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "capped",
		Short:         "Run batches of tasks with a cap on how many are pending at once",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		runCmd(),
		serveCmd(),
		versionCmd(),
	)

	return root
}
