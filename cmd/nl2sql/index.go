package main

import (
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Refresh stale schema embeddings in the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.log.Section("Schema index refresh")
		n, err := a.pipe.Retriever().Reindex(cmd.Context())
		if err != nil {
			return exitf(exitUnavailable, "reindex: %v", err)
		}
		a.log.Infof("refreshed %d embedding(s)", n)
		return nil
	},
}
