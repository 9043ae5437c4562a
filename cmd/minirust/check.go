package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minirust/minirust-sub000/internal/target"
	"github.com/minirust/minirust-sub000/internal/wf"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <scenario>",
		Short: "Run only the well-formedness checker against a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			tgt := target.Default64()
			if err := wf.Check(prog, tgt); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok: well-formed")
			return nil
		},
	}
}
