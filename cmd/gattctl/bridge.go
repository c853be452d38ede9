package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/bridge"
	"github.com/srg/gattc/internal/gatt"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Expose a UART-style characteristic pair as a local PTY",
	Long: `Connects, picks a write characteristic and a notify characteristic
(the Nordic UART service when present) and exposes them as a
pseudo-terminal. Bytes written to the terminal go to the peripheral;
notifications come back out of it.

Examples:
  gattctl bridge AA:BB:CC:DD:EE:FF
  gattctl bridge AA:BB:CC:DD:EE:FF --service 6e400001-b5a3-f393-e0a9-e50e24dcca9e`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().String("service", "", "Service UUID holding the bridged characteristics")
}

func runBridge(cmd *cobra.Command, args []string) error {
	svcFlag, _ := cmd.Flags().GetString("service")
	var svc *gatt.UUID
	if svcFlag != "" {
		u, err := gatt.ParseUUID(svcFlag)
		if err != nil {
			return fmt.Errorf("service: %w", err)
		}
		svc = &u
	}

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
	ep, err := bridge.Resolve(snap, svc)
	if err != nil {
		return err
	}

	b, err := bridge.Open(s.client, connID, ep, s.cfg.Bridge, s.logger)
	if err != nil {
		return err
	}
	defer b.Close()

	s.out.printf("%s\n", b.TTYName())
	err = b.Run(ctx)

	st := b.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "sent %d, received %d, dropped %d in / %d out\n",
		st.Sent, st.Received, st.DroppedIn, st.DroppedOut)
	return err
}
