package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/minirust/minirust-sub000/internal/machine"
)

// newReplCmd is an interactive single-step driver: at each prompt "step"
// advances the machine by exactly one Step, "state" prints the current
// thread table, and "run" drains the rest of the scenario with Run. It
// plays the role that an interactive debugger's command loop plays over
// in the teacher repository's ogle subtree, rebuilt on chzyer/readline
// instead of a bespoke scanner loop since a line-editing REPL is exactly
// what that library is for.
func newReplCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "repl <scenario>",
		Short: "Step a scenario interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			m, err := machine.New(prog, flags.target(), out, cmd.ErrOrStderr(), flags.seed, flags.useTB)
			if err != nil {
				return reportOutcome(cmd, err)
			}

			rl, err := readline.New("minirust> ")
			if err != nil {
				return err
			}
			defer rl.Close()

			for {
				line, rerr := rl.Readline()
				if rerr == io.EOF || rerr == readline.ErrInterrupt {
					return nil
				}
				if rerr != nil {
					return rerr
				}
				switch strings.TrimSpace(line) {
				case "", "help":
					fmt.Fprintln(out, "commands: step, run, state, quit")
				case "step":
					if o := m.Step(); o != nil {
						fmt.Fprintln(out, o.Error())
						return nil
					}
					writeState(out, m)
				case "run":
					if o := m.Run(); o != nil {
						fmt.Fprintln(out, o.Error())
					}
					return nil
				case "state":
					writeState(out, m)
				case "quit", "exit":
					return nil
				default:
					fmt.Fprintf(out, "unknown command %q\n", line)
				}
			}
		},
	}
	flags.register(cmd)
	return cmd
}
