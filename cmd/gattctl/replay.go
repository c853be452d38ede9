package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/eventlog"
)

var replayCmd = &cobra.Command{
	Use:   "replay <event-log>",
	Short: "Print a recorded event log",
	Long: `Decodes a CBOR event log written by "gattctl monitor --record" and prints
it the way monitor does. No adapter is needed.

Examples:
  gattctl replay hrm.cbor
  gattctl replay hrm.cbor --kind notification --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringSlice("kind", nil, "Only print these event kinds (repeatable)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	kinds, _ := cmd.Flags().GetStringSlice("kind")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	defer f.Close()

	want := make(map[client.EventKind]bool, len(kinds))
	for _, k := range kinds {
		want[client.EventKind(k)] = true
	}

	out := newPrinter(cmd.OutOrStdout(), cfg.OutputFormat)
	return eventlog.Replay(f, func(ev client.Event) error {
		if len(want) == 0 || want[ev.Kind] {
			out.event(ev)
		}
		return nil
	})
}
