package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/gatt"
)

var rssiCmd = &cobra.Command{
	Use:   "rssi <device-address>",
	Short: "Read the link RSSI of a connected peripheral",
	Args:  cobra.ExactArgs(1),
	RunE:  runRSSI,
}

func runRSSI(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	addr, connID, err := s.connect(ctx, args[0])
	if err != nil {
		return err
	}
	rctx, cancel := s.timeout(ctx)
	defer cancel()
	rssi, err := s.client.ReadRSSI(rctx, connID)
	if err != nil {
		return err
	}

	if s.out.json {
		s.out.emit(struct {
			Address gatt.Address `json:"address"`
			RSSI    int          `json:"rssi"`
		}{addr, rssi})
		return nil
	}
	s.out.printf("%s %d dBm\n", addrColor.Sprint(addr), rssi)
	return nil
}
