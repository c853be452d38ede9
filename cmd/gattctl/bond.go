package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/gatt"
)

var pairCmd = &cobra.Command{
	Use:   "pair <device-address>",
	Short: "Bond with a peripheral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBond(cmd, args[0], func(ctx context.Context, s *session, a gatt.Address) (gatt.BondState, error) {
			return s.client.Pair(ctx, a)
		})
	},
}

var unpairCmd = &cobra.Command{
	Use:   "unpair <device-address>",
	Short: "Remove the bond with a peripheral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBond(cmd, args[0], func(ctx context.Context, s *session, a gatt.Address) (gatt.BondState, error) {
			return s.client.Unpair(ctx, a)
		})
	},
}

func runBond(cmd *cobra.Command, addr string, op func(context.Context, *session, gatt.Address) (gatt.BondState, error)) error {
	a, err := gatt.ParseAddress(addr)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cmd.SilenceUsage = true

	ctx, cancel := s.timeout(cmd.Context())
	defer cancel()
	state, err := op(ctx, s, a)
	if err != nil {
		return err
	}

	if s.out.json {
		s.out.emit(struct {
			Address gatt.Address   `json:"address"`
			Bond    gatt.BondState `json:"bond"`
		}{a, state})
		return nil
	}
	s.out.printf("%s %s\n", addrColor.Sprint(a), state)
	return nil
}
