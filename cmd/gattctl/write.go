package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/gatt"
)

var writeCmd = &cobra.Command{
	Use:   "write <device-address> <characteristic-uuid> <value>",
	Short: "Write a characteristic or descriptor value",
	Long: `Writes a hex value (or text with --text) to a characteristic, or with
--desc to one of its descriptors.

Write types:
  request   write with response (default)
  command   write without response
  prepare   queued write; committed unless --cancel is given

Examples:
  gattctl write AA:BB:CC:DD:EE:FF 2a39 01
  gattctl write AA:BB:CC:DD:EE:FF 6e400002-b5a3-f393-e0a9-e50e24dcca9e "hello" --text --type command
  gattctl write AA:BB:CC:DD:EE:FF 2a37 --desc 2902 0100`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().String("service", "", "Service UUID (when the characteristic UUID is ambiguous)")
	writeCmd.Flags().String("desc", "", "Descriptor UUID to write instead of the characteristic")
	writeCmd.Flags().String("type", "request", "Write type: request, command or prepare")
	writeCmd.Flags().Bool("text", false, "Treat the value as text instead of hex")
	writeCmd.Flags().Bool("cancel", false, "Cancel a prepared write instead of committing it")
}

func parseValue(s string, text bool) ([]byte, error) {
	if text {
		return []byte(s), nil
	}
	s = strings.TrimPrefix(strings.ReplaceAll(s, " ", ""), "0x")
	v, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("value %q: %w", s, err)
	}
	return v, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	svcUUID, _ := cmd.Flags().GetString("service")
	descUUID, _ := cmd.Flags().GetString("desc")
	typeName, _ := cmd.Flags().GetString("type")
	text, _ := cmd.Flags().GetBool("text")
	cancelPrepared, _ := cmd.Flags().GetBool("cancel")

	wt, err := gatt.ParseWriteType(typeName)
	if err != nil {
		return err
	}
	value, err := parseValue(args[2], text)
	if err != nil {
		return err
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
	ch, err := findCharacteristic(snap, args[1], svcUUID)
	if err != nil {
		return err
	}

	wctx, cancel := s.timeout(ctx)
	defer cancel()
	target := ch.ID.UUID
	if descUUID != "" {
		d, err := findDescriptor(snap, ch, descUUID)
		if err != nil {
			return err
		}
		target = d.ID.UUID
		err = s.client.WriteDescriptor(wctx, connID, d.Index, wt, value)
		if err != nil {
			return err
		}
	} else if err := s.client.WriteCharacteristic(wctx, connID, ch.Index, wt, value); err != nil {
		return err
	}

	if wt == gatt.WritePrepare {
		if err := s.client.ExecuteWrite(wctx, connID, !cancelPrepared); err != nil {
			return err
		}
	}

	if s.out.json {
		s.out.emit(struct {
			UUID  gatt.UUID `json:"uuid"`
			Type  string    `json:"type"`
			Bytes int       `json:"bytes"`
		}{target, wt.String(), len(value)})
		return nil
	}
	s.out.printf("wrote %d byte(s) to %s (%s)\n", len(value), target, wt)
	return nil
}
