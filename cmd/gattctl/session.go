package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/stack/goble"
	"github.com/srg/gattc/internal/stack/sim"
	"github.com/srg/gattc/pkg/config"
)

// newStack builds the backend named by cfg. Tests replace it.
var newStack = func(cfg *config.Config, logger *logrus.Logger) (gatt.Stack, error) {
	switch cfg.Backend {
	case config.BackendSim:
		profile, err := sim.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		return sim.New(profile, logger)
	default:
		return goble.New(logger, goble.WithConnectTimeout(cfg.ConnectTimeout)), nil
	}
}

// loadConfig reads --config (or the defaults) and applies the persistent
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Backend = v
	}
	if v, _ := cmd.Flags().GetString("profile"); v != "" {
		cfg.ProfilePath = v
		if !cmd.Flags().Changed("backend") {
			cfg.Backend = config.BackendSim
		}
	}
	if v, _ := cmd.Flags().GetString("format"); v != "" {
		cfg.OutputFormat = strings.ToLower(v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is the per-command client plus its config and output.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	client *client.Client
	out    *printer
}

// openSession loads config, builds the backend and waits for the client to
// become ready.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	stack, err := newStack(cfg, logger)
	if err != nil {
		return nil, err
	}

	var opts []gatt.Option
	if cfg.AppUUID != "" {
		app, err := gatt.ParseUUID(cfg.AppUUID)
		if err != nil {
			return nil, fmt.Errorf("app_uuid: %w", err)
		}
		opts = append(opts, gatt.WithAppUUID(app))
	}

	s := &session{
		cfg:    cfg,
		logger: logger,
		client: client.New(stack, logger, opts...),
		out:    newPrinter(cmd.OutOrStdout(), cfg.OutputFormat),
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ConnectTimeout)
	defer cancel()
	if err := s.client.Start(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("start: %w", err)
	}
	return s, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TeardownTimeout)
	defer cancel()
	if err := s.client.Close(ctx); err != nil {
		s.logger.WithError(err).Debug("Session teardown incomplete")
	}
}

// timeout derives an operation context from the command context.
func (s *session) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// connect parses addr and connects.
func (s *session) connect(ctx context.Context, addr string) (gatt.Address, int, error) {
	a, err := gatt.ParseAddress(addr)
	if err != nil {
		return gatt.Address{}, 0, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	connID, err := s.client.Connect(cctx, a)
	if err != nil {
		return a, 0, fmt.Errorf("connect %s: %w", a, err)
	}
	s.logger.WithFields(logrus.Fields{"address": a, "conn_id": connID}).Debug("Connected")
	return a, connID, nil
}

// connectAndDiscover connects and fills the attribute cache.
func (s *session) connectAndDiscover(ctx context.Context, addr string) (gatt.Address, int, gatt.Snapshot, error) {
	a, connID, err := s.connect(ctx, addr)
	if err != nil {
		return a, 0, gatt.Snapshot{}, err
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DiscoveryTimeout)
	defer cancel()
	snap, err := s.client.DiscoverAll(dctx, connID)
	if err != nil {
		return a, connID, gatt.Snapshot{}, fmt.Errorf("discover %s: %w", a, err)
	}
	return a, connID, snap, nil
}

// findCharacteristic resolves a characteristic UUID, optionally within a
// service UUID.
func findCharacteristic(snap gatt.Snapshot, charUUID, svcUUID string) (gatt.Characteristic, error) {
	want, err := gatt.ParseUUID(charUUID)
	if err != nil {
		return gatt.Characteristic{}, err
	}
	var svc *gatt.UUID
	if svcUUID != "" {
		u, err := gatt.ParseUUID(svcUUID)
		if err != nil {
			return gatt.Characteristic{}, err
		}
		svc = &u
	}

	var found []gatt.Characteristic
	for _, ch := range snap.Characteristics {
		if ch.ID.UUID != want {
			continue
		}
		if svc != nil && snap.ServiceOf(ch).ID.UUID != *svc {
			continue
		}
		found = append(found, ch)
	}
	switch len(found) {
	case 0:
		if svc != nil {
			return gatt.Characteristic{}, fmt.Errorf("characteristic %s in service %s: %w", want, *svc, ErrNotFound)
		}
		return gatt.Characteristic{}, fmt.Errorf("characteristic %s: %w", want, ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return gatt.Characteristic{}, fmt.Errorf("characteristic %s is in %d services: %w", want, len(found), ErrAmbiguous)
	}
}

// findDescriptor resolves a descriptor UUID under a characteristic.
func findDescriptor(snap gatt.Snapshot, ch gatt.Characteristic, descUUID string) (gatt.Descriptor, error) {
	want, err := gatt.ParseUUID(descUUID)
	if err != nil {
		return gatt.Descriptor{}, err
	}
	for _, d := range snap.Descriptors {
		if d.Characteristic == ch.Index && d.ID.UUID == want {
			return d, nil
		}
	}
	return gatt.Descriptor{}, fmt.Errorf("descriptor %s under %s: %w", want, ch.ID.UUID, ErrNotFound)
}
