package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds a 'v' prefix when the version starts with a digit.
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "gattctl",
	Short: "BLE GATT client tool",
	Long: `gattctl drives a BLE GATT client session:

- Scan for advertising peripherals
- Connect and walk services, included services, characteristics and descriptors
- Read, write (with response, without response, or prepared) and subscribe
- Read RSSI, pair and unpair
- Record session events to a CBOR log and replay them
- Interactive shell, Lua scripting and a PTY bridge for UART-style services

The "sim" backend serves peripherals from a YAML profile, so every command
works without a radio.`,
	Version: formatVersion(version),
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("gattctl {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(rssiCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(unpairCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(bridgeCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML config file")
	pf.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	pf.String("backend", "", "Stack backend: goble or sim")
	pf.String("profile", "", "Simulator profile (YAML) for the sim backend")
	pf.String("format", "", "Output format: table or json")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
