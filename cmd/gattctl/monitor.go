package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/eventlog"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Subscribe to everything and print the session event stream",
	Long: `Connects, discovers, enables notifications on every characteristic that
supports them and prints every session event until interrupted.

With --record (or event_log in the config file) the events are also
appended to a CBOR log that "gattctl replay" reads back.

Examples:
  gattctl monitor AA:BB:CC:DD:EE:FF
  gattctl monitor AA:BB:CC:DD:EE:FF --duration 30s --record hrm.cbor`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().Duration("duration", 0, "Stop after this long (0: until interrupted)")
	monitorCmd.Flags().String("record", "", "Append events to this CBOR log file")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")
	record, _ := cmd.Flags().GetString("record")

	addr, err := gatt.ParseAddress(args[0])
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
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	if record == "" {
		record = s.cfg.EventLogPath
	}
	if record != "" {
		stopRecorder, err := startRecorder(ctx, s, record)
		if err != nil {
			return err
		}
		defer stopRecorder()
	}

	events := s.client.Events(client.DefaultEventBuffer * 4)
	lost := make(chan struct{})
	printed := make(chan struct{})
	groutine.Go(ctx, "monitor-printer", func(ctx context.Context) {
		defer close(printed)
		for {
			select {
			case ev, ok := <-events.C:
				if !ok {
					return
				}
				s.out.event(ev)
				if ev.Kind == client.EventDisconnected && ev.Address == addr {
					close(lost)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
	defer func() {
		events.Close()
		<-printed
	}()

	_, connID, snap, err := s.connectAndDiscover(ctx, args[0])
	if err != nil {
		return err
	}

	var subscribed []int
	for _, ch := range snap.Characteristics {
		if ch.Properties&(ble.CharNotify|ble.CharIndicate) == 0 {
			continue
		}
		sctx, cancel := s.timeout(ctx)
		err := s.client.Subscribe(sctx, connID, ch.Index)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithField("index", ch.Index).Warn("Subscribe failed")
			continue
		}
		subscribed = append(subscribed, ch.Index)
	}
	s.logger.WithField("count", len(subscribed)).Info("Monitoring")

	select {
	case <-lost:
		return ErrConnectionLost
	case <-ctx.Done():
	}

	for _, idx := range subscribed {
		if err := unsubscribe(s, connID, idx); err != nil {
			s.logger.WithError(err).WithField("index", idx).Debug("Unsubscribe failed")
		}
	}
	return nil
}

// startRecorder tees the event stream into a CBOR log at path. The returned
// func stops recording and closes the file.
func startRecorder(ctx context.Context, s *session, path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}

	rec := eventlog.NewRecorder(f, 0)
	sub := s.client.Events(client.DefaultEventBuffer * 4)
	done := make(chan struct{})
	groutine.Go(ctx, "event-recorder", func(ctx context.Context) {
		defer close(done)
		if err := rec.Run(ctx, sub); err != nil {
			s.logger.WithError(err).Error("Event recording stopped")
		}
	})

	return func() {
		sub.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		if err := f.Close(); err != nil {
			s.logger.WithError(err).Warn("Event log close failed")
		}
		st := rec.Stats()
		s.logger.WithFields(logrus.Fields{"path": path, "recorded": st.Recorded}).Info("Event log written")
	}, nil
}
