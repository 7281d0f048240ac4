package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/pipeline"
)

var (
	askTrace     bool
	askMaxRows   int
	askTimeoutMS int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		res := a.pipe.Answer(cmd.Context(), args[0], pipeline.Options{
			Trace:     askTrace,
			MaxRows:   askMaxRows,
			TimeoutMS: askTimeoutMS,
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return exitf(exitConfig, "encode result: %v", err)
		}
		if res.Error != nil {
			return exitf(askExitCode(res.Error), "%s: %s", res.Error.Kind, res.Error.Message)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askTrace, "trace", false, "include per-stage diagnostics in the output")
	askCmd.Flags().IntVar(&askMaxRows, "max-rows", 0, "row cap for this question (0 uses the configured default)")
	askCmd.Flags().IntVar(&askTimeoutMS, "timeout-ms", 0, "overall deadline in milliseconds (0 means no deadline)")
}

// askExitCode maps an infrastructure failure to the unavailable code;
// everything else is an ordinary error.
func askExitCode(e *pipeline.ErrorInfo) int {
	switch fault.Kind(e.Kind) {
	case fault.KindRetrievalUnavailable, fault.KindGenerationFailed, fault.KindConnectionError:
		return exitUnavailable
	}
	return exitConfig
}
