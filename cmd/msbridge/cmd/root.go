// Package cmd implements the msbridge command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/arloliu/go-msbridge/simulator"
)

const (
	configFlag           = "config"
	logLevelFlag         = "log-level"
	logFileFlag          = "log-file"
	recordingFlag        = "recording"
	terminalDurationFlag = "terminal-duration"
	timingStreamFlag     = "timing-stream"
	processingDelayFlag  = "processing-delay"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "msbridge",
		SilenceUsage: true,
		Short:        "Replay recorded mass spectrometry runs through the custom scan interface.",
		Long: `msbridge replays a recorded run as a simulated instrument that accepts one
custom scan at a time. Every flag can also be set in the config file or through
an MSBRIDGE_ prefixed environment variable, e.g. MSBRIDGE_TERMINAL_DURATION=1s.`,
	}

	flags := cmd.PersistentFlags()
	flags.String(configFlag, "", "Path to a YAML config file.")
	flags.String(logLevelFlag, "info", "Log level: debug, info, warn or error.")
	flags.String(logFileFlag, "", "Keep log records in memory and write them to this file on exit.")
	flags.String(recordingFlag, "", "Recording to replay, an .mzML or .yaml file.")
	flags.Duration(terminalDurationFlag, simulator.DefaultTerminalDuration, "Service time of the last spectrum of a queue.")
	flags.String(timingStreamFlag, "per-queue", "Timing stream: per-queue or acquisition.")
	flags.Bool(processingDelayFlag, false, "Add half of each request's max processing delay to its service time.")

	cmd.AddCommand(
		replayCmd(),
		serveCmd(),
	)

	return cmd
}
