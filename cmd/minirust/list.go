package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minirust/minirust-sub000/internal/fixtures"
	"github.com/minirust/minirust-sub000/internal/ir"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in scenario programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range fixtures.Names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func loadScenario(name string) (*ir.Program, error) {
	prog := fixtures.Program(name)
	if prog == nil {
		return nil, fmt.Errorf("unknown scenario %q (see \"minirust list\")", name)
	}
	return prog, nil
}
