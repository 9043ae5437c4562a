package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minirust/minirust-sub000/internal/machine"
)

// exitCode maps a terminal Outcome to a process exit status, per spec.md
// §7's recommended mapping: clean exit is 0, every failure tag gets its own
// nonzero code so a caller can distinguish them without parsing Msg.
func exitCode(tag machine.OutcomeTag) int {
	switch tag {
	case machine.TagMachineStop:
		return 0
	case machine.TagUB:
		return 1
	case machine.TagIllFormed:
		return 2
	case machine.TagDeadlock:
		return 3
	case machine.TagMemoryLeak:
		return 4
	case machine.TagOutOfMemory:
		return 5
	default:
		return 1
	}
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario to a terminal outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			out, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
			m, err := machine.New(prog, flags.target(), out, stderr, flags.seed, flags.useTB)
			if err != nil {
				return reportOutcome(cmd, err)
			}

			var outcome *machine.Outcome
			for steps := 0; ; steps++ {
				if steps >= flags.maxSteps {
					fmt.Fprintf(stderr, "aborted after %d steps without a terminal outcome\n", steps)
					return cmdExit{code: 1}
				}
				if o := m.Step(); o != nil {
					outcome = o
					break
				}
				if flags.printState {
					printState(cmd, m)
				}
			}
			return reportOutcome(cmd, outcome)
		},
	}
	flags.register(cmd)
	return cmd
}

// cmdExit lets RunE hand main an exit code without cobra printing an error
// for a condition that is not a Go error in its own right.
type cmdExit struct {
	code int
}

func (e cmdExit) Error() string { return "" }

func reportOutcome(cmd *cobra.Command, err error) error {
	o, ok := err.(*machine.Outcome)
	if !ok {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), o.Error())
	return cmdExit{code: exitCode(o.Tag)}
}
