package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session console",
	Long: `Opens an interactive console over the raw session. Commands return as soon
as the request is queued; results arrive asynchronously as event lines.
Attributes are addressed by connection id and cache index, as printed by
"list" and by the discovery events.

Type "help" at the prompt for the command list.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cmd.SilenceUsage = true

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gatt> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    shellCompleter(),
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	sh := newShell(s, rl.Stdout())
	stop := sh.watch(cmd.Context())
	defer stop()

	ctx := cmd.Context()
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		quit, err := sh.execute(line)
		if err != nil {
			errColor.Fprintf(rl.Stderr(), "error: %s\n", FormatUserError(err))
		}
		if quit {
			return nil
		}
	}
}

// shell runs console commands against the session. It is separate from the
// readline loop so tests can drive it directly.
type shell struct {
	s    *session
	sess *gatt.Session
	out  *printer
	w    io.Writer
}

func newShell(s *session, w io.Writer) *shell {
	return &shell{s: s, sess: s.client.Session(), out: newPrinter(w, s.cfg.OutputFormat), w: w}
}

// watch prints session events until the returned func is called.
func (sh *shell) watch(ctx context.Context) func() {
	events := sh.s.client.Events(client.DefaultEventBuffer * 4)
	done := make(chan struct{})
	groutine.Go(ctx, "shell-events", func(ctx context.Context) {
		defer close(done)
		for {
			select {
			case ev, ok := <-events.C:
				if !ok {
					return
				}
				sh.out.event(ev)
			case <-ctx.Done():
				return
			}
		}
	})
	return func() {
		events.Close()
		<-done
	}
}

type shellCommand struct {
	usage string
	help  string
	run   func(sh *shell, args []string) error
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"help":       {"help", "Show this list", (*shell).help},
		"status":     {"status", "Adapter, scan and device state", (*shell).status},
		"scan":       {"scan start|stop", "Start or stop LE scanning", (*shell).scan},
		"connect":    {"connect <addr>", "Open a link", addrCommand((*gatt.Session).Connect)},
		"disconnect": {"disconnect <addr>", "Close a link", addrCommand((*gatt.Session).Disconnect)},
		"pair":       {"pair <addr>", "Create a bond", addrCommand((*gatt.Session).Pair)},
		"cancelpair": {"cancelpair <addr>", "Cancel a bond in progress", addrCommand((*gatt.Session).CancelPairing)},
		"unpair":     {"unpair <addr>", "Remove a bond", addrCommand((*gatt.Session).RemoveBond)},
		"search":     {"search <conn> [uuid]", "Discover primary services", (*shell).search},
		"included":   {"included <conn> <svc>", "Discover included services of a service", indexCommand((*gatt.Session).DiscoverIncludedServices)},
		"chars":      {"chars <conn> <svc>", "Discover characteristics of a service", indexCommand((*gatt.Session).DiscoverCharacteristics)},
		"descs":      {"descs <conn> <char>", "Discover descriptors of a characteristic", indexCommand((*gatt.Session).DiscoverDescriptors)},
		"read":       {"read <conn> <char>", "Read a characteristic", opCommand(gatt.OpReadCharacteristic)},
		"readd":      {"readd <conn> <desc>", "Read a descriptor", opCommand(gatt.OpReadDescriptor)},
		"write":      {"write <conn> <char> <hex> [command|request|prepare]", "Write a characteristic", (*shell).write},
		"writed":     {"writed <conn> <desc> <hex> [command|request|prepare]", "Write a descriptor", (*shell).write},
		"exec":       {"exec <conn> commit|cancel", "Finish a prepared write", (*shell).exec},
		"do":         {"do <op> <conn> <index> [hex]", "Issue a raw attribute operation code", (*shell).do},
		"reg":        {"reg <conn> <char>", "Enable notifications", indexCommand((*gatt.Session).RegisterNotification)},
		"unreg":      {"unreg <conn> <char>", "Disable notifications", indexCommand((*gatt.Session).UnregisterNotification)},
		"rssi":       {"rssi <conn>", "Read the link RSSI", (*shell).rssi},
		"list":       {"list <conn>", "Print the cached attribute tree", (*shell).list},
		"quit":       {"quit", "Leave the console", nil},
	}
}

func shellCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellCommands))
	for _, name := range sortedCommands() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func sortedCommands() []string {
	names := make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// execute runs one console line. quit reports that the console should exit.
func (sh *shell) execute(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return false, nil
	}
	name := strings.ToLower(fields[0])
	if name == "exit" || name == "q" {
		name = "quit"
	}
	c, ok := shellCommands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q (type 'help')", fields[0])
	}
	if c.run == nil {
		return true, nil
	}
	if err := c.run(sh, fields); err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return false, nil
}

func (sh *shell) help(_ []string) error {
	for _, name := range sortedCommands() {
		c := shellCommands[name]
		fmt.Fprintf(sh.w, "  %-52s %s\n", c.usage, dimColor.Sprint(c.help))
	}
	return nil
}

func (sh *shell) status(_ []string) error {
	fmt.Fprintf(sh.w, "ready=%t scanning=%t app=%s\n", sh.sess.Ready(), sh.sess.Scanning(), sh.sess.AppUUID())
	for _, d := range sh.sess.Registry().Devices() {
		fmt.Fprintf(sh.w, "  %s conn=%d\n", addrColor.Sprint(d.Address()), d.ConnID())
	}
	return nil
}

func (sh *shell) scan(args []string) error {
	if len(args) != 2 {
		return errUsage("scan")
	}
	switch args[1] {
	case "start", "on":
		return sh.sess.StartScan()
	case "stop", "off":
		return sh.sess.StopScan()
	default:
		return errUsage("scan")
	}
}

func (sh *shell) search(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage("search")
	}
	connID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("conn: %w", err)
	}
	var filter *gatt.UUID
	if len(args) == 3 {
		u, err := gatt.ParseUUID(args[2])
		if err != nil {
			return err
		}
		filter = &u
	}
	return sh.sess.DiscoverServices(connID, filter)
}

func (sh *shell) write(args []string) error {
	if len(args) < 4 || len(args) > 5 {
		return errUsage(args[0])
	}
	ints, err := parseInts(args[1:3])
	if err != nil {
		return err
	}
	value, err := parseValue(args[3], false)
	if err != nil {
		return err
	}
	wt := gatt.WriteRequest
	if len(args) == 5 {
		if wt, err = gatt.ParseWriteType(args[4]); err != nil {
			return err
		}
	}
	if strings.ToLower(args[0]) == "writed" {
		return sh.sess.WriteDescriptor(ints[0], ints[1], wt, gatt.AuthNone, value)
	}
	return sh.sess.WriteCharacteristic(ints[0], ints[1], wt, gatt.AuthNone, value)
}

func (sh *shell) exec(args []string) error {
	if len(args) != 3 {
		return errUsage("exec")
	}
	connID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("conn: %w", err)
	}
	switch args[2] {
	case "commit":
		return sh.sess.ExecuteWrite(connID, true)
	case "cancel":
		return sh.sess.ExecuteWrite(connID, false)
	default:
		return errUsage("exec")
	}
}

func (sh *shell) do(args []string) error {
	if len(args) < 4 || len(args) > 5 {
		return errUsage("do")
	}
	ints, err := parseInts(args[1:4])
	if err != nil {
		return err
	}
	var value []byte
	if len(args) == 5 {
		if value, err = parseValue(args[4], false); err != nil {
			return err
		}
	}
	return sh.sess.Do(gatt.Op(ints[0]), ints[1], ints[2], gatt.AuthNone, value)
}

func (sh *shell) rssi(args []string) error {
	if len(args) != 2 {
		return errUsage("rssi")
	}
	connID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("conn: %w", err)
	}
	return sh.sess.ReadRemoteRSSI(connID)
}

func (sh *shell) list(args []string) error {
	if len(args) != 2 {
		return errUsage("list")
	}
	connID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("conn: %w", err)
	}
	snap, err := sh.sess.Snapshot(connID)
	if err != nil {
		return err
	}
	sh.out.tree(snap, nil)
	for _, sub := range snap.Subscriptions {
		fmt.Fprintf(sh.w, "  subscribed [%d] %s\n", sub.Characteristic, sub.UUID)
	}
	return nil
}

func addrCommand(fn func(*gatt.Session, gatt.Address) error) func(*shell, []string) error {
	return func(sh *shell, args []string) error {
		if len(args) != 2 {
			return errUsage(args[0])
		}
		addr, err := gatt.ParseAddress(args[1])
		if err != nil {
			return err
		}
		return fn(sh.sess, addr)
	}
}

func indexCommand(fn func(*gatt.Session, int, int) error) func(*shell, []string) error {
	return func(sh *shell, args []string) error {
		if len(args) != 3 {
			return errUsage(args[0])
		}
		ints, err := parseInts(args[1:])
		if err != nil {
			return err
		}
		return fn(sh.sess, ints[0], ints[1])
	}
}

func opCommand(op gatt.Op) func(*shell, []string) error {
	return func(sh *shell, args []string) error {
		if len(args) != 3 {
			return errUsage(args[0])
		}
		ints, err := parseInts(args[1:])
		if err != nil {
			return err
		}
		return sh.sess.Do(op, ints[0], ints[1], gatt.AuthNone, nil)
	}
}

func parseInts(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number: %w", a, gatt.ErrInvalidArgument)
		}
		out[i] = v
	}
	return out, nil
}

func errUsage(name string) error {
	return fmt.Errorf("usage: %s: %w", shellCommands[strings.ToLower(name)].usage, gatt.ErrInvalidArgument)
}
