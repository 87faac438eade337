package main

import (
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/chazu/vmkernel/vm"
)

func newRunCmd(g *globals) *cobra.Command {
	var (
		entry  int
		locals []int64
		dump   bool
	)
	cmd := &cobra.Command{
		Use:   "run [file.vimg|file.vasm]",
		Short: "Run a program and report how it ended",
		Long: `Run a program on the selected engine. The command fails when the
run ends in anything other than a completed HALT or RET.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.programPath(args)
			if err != nil {
				return err
			}
			f, err := g.factory()
			if err != nil {
				return err
			}
			img, err := loadImage(f, path)
			if err != nil {
				return err
			}
			e, err := f.Create(g.strategyName())
			if err != nil {
				return err
			}

			seed := img.Locals
			if len(locals) > 0 {
				seed = locals
			}
			res := e.RunWith(img.Code, entry, seed)

			out := cmd.OutOrStdout()
			printResult(out, e.Name(), res)
			if dump {
				spew.Fdump(out, res.Context)
			}
			return res.Err()
		},
	}
	cmd.Flags().IntVar(&entry, "entry", 0, "Byte offset to start at")
	cmd.Flags().Int64SliceVar(&locals, "locals", nil, "Seed values for the leading local slots (overrides the image)")
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump the full execution context")
	return cmd
}

// printResult writes a one-block summary of a run.
func printResult(w io.Writer, strategy string, res vm.Result) {
	fmt.Fprintf(w, "%s: %s at offset %d after %d steps\n", strategy, res.Reason, res.Offset, res.Context.Steps)
	fmt.Fprintf(w, "stack: %v\n", res.Context.Stack)
}
