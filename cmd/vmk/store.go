package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/vmkernel/image"
	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/chazu/vmkernel/store"
)

func newStoreCmd(g *globals) *cobra.Command {
	var dsn string

	open := func() (store.Store, error) {
		if dsn == "" {
			dsn = g.m.StoreDSN()
		}
		return store.Open(dsn)
	}

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage saved programs",
	}
	cmd.PersistentFlags().StringVar(&dsn, "store", "", "Program store DSN (default from manifest)")

	var name string
	put := &cobra.Command{
		Use:   "put <file.vimg|file.vasm>",
		Short: "Save a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.factory()
			if err != nil {
				return err
			}
			img, err := loadImage(f, args[0])
			if err != nil {
				return err
			}
			if name != "" {
				img.Name = name
			}
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Put(cmd.Context(), img); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", img.Name)
			return nil
		},
	}
	put.Flags().StringVar(&name, "name", "", "Name to save under (default: file name)")

	var output string
	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a saved program, or write it out as an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.factory()
			if err != nil {
				return err
			}
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			img, err := s.Get(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no program named %q", args[0])
			}
			if err != nil {
				return err
			}
			if err := img.Check(f.Table()); err != nil {
				return err
			}

			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), bytecode.DisassembleWithName(img.Code, f.Table(), img.Name))
				return nil
			}
			data, err := image.Marshal(img)
			if err != nil {
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "Write the image to this path instead of printing it")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List saved programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			names, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm <name>...",
		Short: "Delete saved programs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			for _, n := range args {
				if err := s.Delete(cmd.Context(), n); err != nil {
					return fmt.Errorf("%s: %w", n, err)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(put, get, ls, rm)
	return cmd
}
