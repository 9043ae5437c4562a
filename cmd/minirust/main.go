// Command minirust is the optional CLI harness of spec.md §6: it loads one
// of the built-in scenario Programs (internal/fixtures stands in for the
// out-of-scope Rust-to-IR frontend, spec.md §1) and drives it through the
// abstract machine. Its command tree is grounded on
// golang.org/x/debug/cmd/viewcore/objref.go, the one place the teacher
// repository itself builds a *cobra.Command and reads flags off it; every
// other viewcore subcommand is built the same way here instead of
// viewcore's own ad hoc flag.FlagSet switch, so that cobra and pflag (both
// direct dependencies) have one consistent home.
package main

import (
	"fmt"
	"os"

	"github.com/chzyer/logex"
	"github.com/spf13/cobra"

	"github.com/minirust/minirust-sub000/internal/target"
)

// runFlags collects the global knobs spec.md §6 lists for a "typical
// harness": --seed, --max-steps, --print-state, --tb (--tb=false disables).
type runFlags struct {
	seed       uint64
	maxSteps   int
	printState bool
	useTB      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "seed for the scheduler's and allocator's nondeterministic choices")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 1_000_000, "abort with a non-terminal status after this many steps")
	cmd.Flags().BoolVar(&f.printState, "print-state", false, "print each thread's program counter after every step")
	cmd.Flags().BoolVar(&f.useTB, "tb", true, "enable the Tree Borrows aliasing model (--tb=false disables it)")
}

func (f *runFlags) target() target.Target {
	return target.Default64()
}

func main() {
	root := &cobra.Command{
		Use:           "minirust",
		Short:         "Run and inspect MiniRust abstract-machine programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newListCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newReplCmd())

	if err := root.Execute(); err != nil {
		if exit, ok := err.(cmdExit); ok {
			os.Exit(exit.code)
		}
		logex.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
