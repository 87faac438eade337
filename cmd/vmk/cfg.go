package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/chazu/vmkernel/image"
	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/chazu/vmkernel/vm"
)

func newCfgCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cfg [file.vimg|file.vasm]",
		Short: "Print the basic blocks of a program as a tree",
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
			tree, err := blockTree(f.Table(), img)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tree.String())
			return nil
		},
	}
}

// blockTree renders the basic blocks of img, one branch per block with
// its instructions and successor edges as leaves.
func blockTree(t *bytecode.Table, img *image.Image) (treeprint.Tree, error) {
	blocks, err := bytecode.BasicBlocks(img.Code, t, vm.Flow)
	if err != nil {
		return nil, err
	}

	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s (%d bytes, %d blocks)", img.Name, len(img.Code), len(blocks)))
	for _, blk := range blocks {
		br := tree.AddBranch(fmt.Sprintf("block %04X-%04X", blk.Start, blk.End))
		for _, in := range blk.Instructions {
			br.AddNode(fmt.Sprintf("%04X  %s", in.Offset, in))
		}
		if len(blk.Succs) == 0 {
			br.AddNode("-> exit")
			continue
		}
		succs := make([]string, len(blk.Succs))
		for i, s := range blk.Succs {
			succs[i] = fmt.Sprintf("%04X", s)
		}
		br.AddNode("-> " + strings.Join(succs, ", "))
	}
	return tree, nil
}
