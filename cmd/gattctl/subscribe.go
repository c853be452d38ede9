package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/client"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <characteristic-uuid>",
	Short: "Print notifications from one characteristic",
	Long: `Enables notifications (or indications) on a characteristic and prints each
value as it arrives. Stops after --count values, after --duration, or on
Ctrl-C.

Examples:
  gattctl subscribe AA:BB:CC:DD:EE:FF 2a37
  gattctl subscribe AA:BB:CC:DD:EE:FF 2a19 --count 1 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

func init() {
	subscribeCmd.Flags().String("service", "", "Service UUID (when the characteristic UUID is ambiguous)")
	subscribeCmd.Flags().Int("count", 0, "Stop after this many notifications (0: unlimited)")
	subscribeCmd.Flags().Duration("duration", 0, "Stop after this long (0: until interrupted)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	svcUUID, _ := cmd.Flags().GetString("service")
	count, _ := cmd.Flags().GetInt("count")
	duration, _ := cmd.Flags().GetDuration("duration")

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

	events := s.client.Events(client.DefaultEventBuffer)
	defer events.Close()

	sctx, cancel := s.timeout(ctx)
	err = s.client.Subscribe(sctx, connID, ch.Index)
	cancel()
	if err != nil {
		return err
	}

	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	received := 0
	for count == 0 || received < count {
		select {
		case ev, ok := <-events.C:
			if !ok {
				return ErrConnectionLost
			}
			switch {
			case ev.Kind == client.EventDisconnected && ev.ConnID == connID:
				return ErrConnectionLost
			case ev.Kind == client.EventNotification && ev.ConnID == connID && ev.Index == ch.Index:
				received++
				s.out.event(ev)
			}
		case <-ctx.Done():
			return unsubscribe(s, connID, ch.Index)
		}
	}
	return unsubscribe(s, connID, ch.Index)
}

// unsubscribe runs on a fresh context so it still goes out after Ctrl-C.
func unsubscribe(s *session, connID, index int) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.client.Unsubscribe(ctx, connID, index)
}
