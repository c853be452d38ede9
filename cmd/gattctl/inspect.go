package main

import (
	"github.com/go-ble/ble"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Connect and print the attribute tree",
	Long: `Connects, discovers every service, included service, characteristic and
descriptor, and prints them with their cache indices. The indices are the
ones the shell and scripts use.

Examples:
  gattctl inspect AA:BB:CC:DD:EE:FF
  gattctl inspect AA:BB:CC:DD:EE:FF --read
  gattctl inspect AA:BB:CC:DD:EE:FF --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Bool("read", false, "Also read every readable characteristic")
}

func runInspect(cmd *cobra.Command, args []string) error {
	readValues, _ := cmd.Flags().GetBool("read")

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	_, connID, snap, err := s.connectAndDiscover(ctx, args[0])
	if err != nil {
		return err
	}

	values := make(map[int][]byte)
	if readValues {
		for _, ch := range snap.Characteristics {
			if ch.Properties&ble.CharRead == 0 {
				continue
			}
			rctx, cancel := s.timeout(ctx)
			v, err := s.client.ReadCharacteristic(rctx, connID, ch.Index)
			cancel()
			if err != nil {
				s.logger.WithError(err).WithField("index", ch.Index).Warn("Read failed")
				continue
			}
			values[ch.Index] = v
		}
	}

	s.out.tree(snap, values)
	return nil
}
