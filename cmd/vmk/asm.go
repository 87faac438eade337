package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/vmkernel/image"
	"github.com/chazu/vmkernel/pkg/bytecode"
)

func newAsmCmd(g *globals) *cobra.Command {
	var (
		output string
		name   string
		locals []int64
	)
	cmd := &cobra.Command{
		Use:   "asm [file.vasm]",
		Short: "Assemble source into a program image",
		Args:  cobra.MaximumNArgs(1),
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
			ins, err := bytecode.Decode(img.Code, f.Table())
			if err != nil {
				return err
			}
			if name != "" {
				img.Name = name
			}
			if len(locals) > 0 {
				img.Locals = locals
			}

			data, err := image.Marshal(img)
			if err != nil {
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(path, ".vasm") + ImageExt
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d instructions, %d code bytes, %d image bytes)\n",
				output, len(ins), len(img.Code), len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output image path (default: input with "+ImageExt+")")
	cmd.Flags().StringVar(&name, "name", "", "Program name stored in the image (default: file name)")
	cmd.Flags().Int64SliceVar(&locals, "locals", nil, "Seed values for the leading local slots")
	return cmd
}

func newDisasmCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm [file.vimg|file.vasm]",
		Short: "Print the listing of a program",
		Args:  cobra.MaximumNArgs(1),
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
			fmt.Fprint(cmd.OutOrStdout(), bytecode.DisassembleWithName(img.Code, f.Table(), img.Name))
			return nil
		},
	}
}
