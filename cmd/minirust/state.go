package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/minirust/minirust-sub000/internal/machine"
)

// printState writes one line per thread: its scheduling state and, for any
// thread with a live frame, the basic block and statement index its top
// frame is parked at (spec.md §6's --print-state).
func printState(cmd *cobra.Command, m *machine.Machine) {
	writeState(cmd.OutOrStdout(), m)
}

func writeState(w io.Writer, m *machine.Machine) {
	for i, th := range m.Threads {
		fmt.Fprintf(w, "thread %d: %s", i, threadStateString(th.State))
		if n := len(th.Frames); n > 0 {
			top := th.Frames[n-1]
			fmt.Fprintf(w, " depth=%d block=%s stmt=%d", n, top.PC.Block, top.PC.Stmt)
		}
		fmt.Fprintln(w)
	}
}

func threadStateString(s machine.ThreadState) string {
	switch s {
	case machine.Enabled:
		return "Enabled"
	case machine.BlockedOnJoin:
		return "BlockedOnJoin"
	case machine.BlockedOnLock:
		return "BlockedOnLock"
	case machine.Terminated:
		return "Terminated"
	default:
		return "?"
	}
}
