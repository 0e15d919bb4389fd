package main

import (
	"encoding/json"
	"fmt"

	"github.com/nomis52/capexec/buildinfo"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			props := buildinfo.Get()
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(props)
			}
			fmt.Fprintf(w, "capped %s\n", props.Version)
			fmt.Fprintf(w, "Built: %s\n", props.BuildTime)
			fmt.Fprintf(w, "Commit: %s\n", props.GitCommit)
			fmt.Fprintf(w, "Go: %s\n", props.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
