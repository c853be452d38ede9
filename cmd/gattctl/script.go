package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/gattc"
	"github.com/srg/gattc/internal/script"
)

var scriptCmd = &cobra.Command{
	Use:   "script [file] [args...]",
	Short: "Run a Lua script against the GATT client",
	Long: `Runs a Lua script with the gatt table bound to a live client session.

The script sees gatt.connect, gatt.discover, gatt.read, gatt.write,
gatt.subscribe, gatt.on, gatt.wait and friends; print goes to stdout.
Remaining arguments are available to the script as arg[1], arg[2], ...

Examples:
  gattctl script probe.lua AA:BB:CC:DD:EE:FF
  gattctl script --builtin battery AA:BB:CC:DD:EE:FF
  gattctl script --list
  gattctl script -e 'print(gatt.rssi(gatt.connect(arg[1])))' AA:BB:CC:DD:EE:FF`,
	Args: cobra.ArbitraryArgs,
	RunE: runScript,
}

var errScriptSource = errors.New("pass exactly one of a script file, --exec or --builtin")

func init() {
	scriptCmd.Flags().StringP("exec", "e", "", "Run this Lua chunk instead of a file")
	scriptCmd.Flags().StringP("builtin", "b", "", "Run a bundled script (see --list)")
	scriptCmd.Flags().Bool("list", false, "List the bundled scripts")
}

func runScript(cmd *cobra.Command, args []string) error {
	chunk, _ := cmd.Flags().GetString("exec")
	builtin, _ := cmd.Flags().GetString("builtin")
	list, _ := cmd.Flags().GetBool("list")

	if list {
		for _, name := range gattc.BuiltinScripts() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	var src, name string
	switch {
	case chunk != "" && builtin != "":
		return errScriptSource
	case chunk != "":
		src, name = chunk, "exec"
	case builtin != "":
		var ok bool
		if src, ok = gattc.BuiltinScript(builtin); !ok {
			return fmt.Errorf("no bundled script %q: %w", builtin, ErrNotFound)
		}
		name = builtin
	case len(args) > 0:
		name, args = args[0], args[1:]
	default:
		return errScriptSource
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cmd.SilenceUsage = true

	eng := script.New(s.client, s.logger, cmd.OutOrStdout(), script.WithTimeout(s.cfg.OperationTimeout))
	defer eng.Close()
	eng.SetArgs(args)

	if src == "" {
		return eng.RunFile(cmd.Context(), name)
	}
	return eng.Run(cmd.Context(), src, name)
}
