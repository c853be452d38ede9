package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for advertising peripherals",
	Long: `Runs an LE scan and prints each peripheral once, with its name, RSSI and
advertised services.

Examples:
  # Scan for the configured scan timeout
  gattctl scan

  # Scan for 5 seconds, only devices whose name contains "HRM"
  gattctl scan --duration 5s --name hrm

  # Print every advertisement as JSON
  gattctl scan --all --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Duration("duration", 0, "Scan duration (default: scan_timeout from config)")
	scanCmd.Flags().String("name", "", "Only show devices whose name contains this (case-insensitive)")
	scanCmd.Flags().Bool("all", false, "Print every advertisement, not only the first per device")
}

func runScan(cmd *cobra.Command, _ []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")
	nameFilter, _ := cmd.Flags().GetString("name")
	all, _ := cmd.Flags().GetBool("all")

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cmd.SilenceUsage = true

	if duration <= 0 {
		duration = s.cfg.ScanTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	seen := make(map[gatt.Address]bool)
	err = s.client.Scan(ctx, func(ev client.Event) {
		adv, err := gatt.ParseAdvData(ev.Value)
		if err != nil {
			s.logger.WithError(err).WithField("address", ev.Address).Debug("Malformed advertisement")
		}
		if nameFilter != "" && !strings.Contains(strings.ToLower(adv.Name), strings.ToLower(nameFilter)) {
			return
		}
		if seen[ev.Address] && !all {
			return
		}
		seen[ev.Address] = true
		s.out.device(newScanRecord(ev, adv))
	})
	if err != nil {
		return err
	}

	if !s.out.json {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d device(s) found in %s\n", len(seen), duration.Round(time.Millisecond))
	}
	return nil
}
