package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/stack/sim"
	"github.com/srg/gattc/pkg/config"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

const testAddress = "00:00:00:00:00:01"

// CommandTestSuite runs gattctl commands against the sim backend. Every test
// gets a fresh profile file and a fresh simulated stack.
type CommandTestSuite struct {
	suite.Suite

	dir     string
	profile string

	mu    sync.Mutex
	stack *sim.Stack

	origNewStack func(*config.Config, *logrus.Logger) (gatt.Stack, error)
}

func (s *CommandTestSuite) SetupSuite() {
	color.NoColor = true
	s.origNewStack = newStack
}

func (s *CommandTestSuite) TearDownSuite() {
	newStack = s.origNewStack
}

func (s *CommandTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.profile = filepath.Join(s.dir, "hrm.yaml")

	data, err := yaml.Marshal(sim.Profile{Peripherals: []sim.PeripheralSpec{sim.HeartRateMonitor(testAddress)}})
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(s.profile, data, 0o600))

	s.mu.Lock()
	s.stack = nil
	s.mu.Unlock()
	newStack = func(cfg *config.Config, logger *logrus.Logger) (gatt.Stack, error) {
		st, err := s.origNewStack(cfg, logger)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.stack = st.(*sim.Stack)
		s.mu.Unlock()
		return st, nil
	}
}

// Stack returns the simulated stack of the running command, waiting for it
// to be created.
func (s *CommandTestSuite) Stack() *sim.Stack {
	var st *sim.Stack
	s.Require().Eventually(func() bool {
		st = s.currentStack()
		return st != nil
	}, 2*time.Second, 5*time.Millisecond, "command MUST build a sim stack")
	return st
}

// currentStack is Stack without waiting, for use off the test goroutine.
func (s *CommandTestSuite) currentStack() *sim.Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack
}

// ExecuteCommand runs gattctl with args against the test profile and returns
// what it wrote to stdout.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resetCommand(rootCmd, ctx)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--profile", s.profile, "--log-level", "error"))

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		s.T().Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}

// resetCommand puts every flag back to its default and hands ctx to every
// command; cobra keeps both from a previous run otherwise.
func resetCommand(cmd *cobra.Command, ctx context.Context) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		resetCommand(sub, ctx)
	}
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
