package main

import (
	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <device-address> <characteristic-uuid>",
	Short: "Read a characteristic or descriptor value",
	Long: `Reads a characteristic, or with --desc one of its descriptors.

Examples:
  # Battery level as hex
  gattctl read AA:BB:CC:DD:EE:FF 2a19 --hex

  # Disambiguate with the service
  gattctl read AA:BB:CC:DD:EE:FF 2a19 --service 180f

  # Client Characteristic Configuration of the heart rate measurement
  gattctl read AA:BB:CC:DD:EE:FF 2a37 --desc 2902 --hex`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

func init() {
	readCmd.Flags().String("service", "", "Service UUID (when the characteristic UUID is ambiguous)")
	readCmd.Flags().String("desc", "", "Descriptor UUID to read instead of the characteristic")
	readCmd.Flags().Bool("hex", false, "Print hex instead of raw bytes")
}

func runRead(cmd *cobra.Command, args []string) error {
	svcUUID, _ := cmd.Flags().GetString("service")
	descUUID, _ := cmd.Flags().GetString("desc")
	asHex, _ := cmd.Flags().GetBool("hex")

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
	ch, err := findCharacteristic(snap, args[1], svcUUID)
	if err != nil {
		return err
	}

	rctx, cancel := s.timeout(ctx)
	defer cancel()
	if descUUID != "" {
		d, err := findDescriptor(snap, ch, descUUID)
		if err != nil {
			return err
		}
		v, err := s.client.ReadDescriptor(rctx, connID, d.Index)
		if err != nil {
			return err
		}
		s.out.value(d.ID.UUID, v, asHex)
		return nil
	}

	v, err := s.client.ReadCharacteristic(rctx, connID, ch.Index)
	if err != nil {
		return err
	}
	s.out.value(ch.ID.UUID, v, asHex)
	return nil
}
