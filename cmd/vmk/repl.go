package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/chazu/vmkernel/vm"
)

const replHelp = `Enter one instruction per line, e.g. "PUSH 5". Commands:
  :run          translate and run the program so far
  :list         show the program so far
  :reset        clear the program
  :strategy S   switch dispatch strategy
  :help         show this help
  :quit         leave the REPL`

func newReplCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Build and run programs interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.factory()
			if err != nil {
				return err
			}
			r, err := newREPL(f, g.strategyName(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "vmk> ",
				HistoryFile:     filepath.Join(os.TempDir(), "vmk_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       ":quit",
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			fmt.Fprintf(r.out, "vmkernel REPL (%s engine). Type :help for commands.\n", r.engine.Name())
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if r.exec(line) {
					return nil
				}
			}
		},
	}
}

// repl accumulates instructions in an untranslated builder so they can
// be listed with their authored jump indices; :run translates a copy.
type repl struct {
	f      *vm.Factory
	engine vm.Engine
	b      *bytecode.Builder
	out    io.Writer
}

func newREPL(f *vm.Factory, strategy string, out io.Writer) (*repl, error) {
	e, err := f.Create(strategy)
	if err != nil {
		return nil, err
	}
	return &repl{f: f, engine: e, b: bytecode.NewBuilder(f.Table()), out: out}, nil
}

// exec handles one input line and reports whether the REPL should exit.
func (r *repl) exec(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ":") {
		if err := r.b.DecodeFrom(strings.NewReader(line)); err != nil {
			fmt.Fprintln(r.out, strings.TrimPrefix(err.Error(), "bytecode: line 1: "))
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "run":
		r.run()
	case "list":
		if r.b.Count() == 0 {
			fmt.Fprintln(r.out, "(empty)")
			return false
		}
		ins, err := r.b.Instructions()
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		for _, in := range ins {
			fmt.Fprintf(r.out, "[%3d]  %s\n", in.Index, in)
		}
	case "reset":
		r.b.Reset()
		fmt.Fprintln(r.out, "program cleared")
	case "strategy":
		e, err := r.f.Create(strings.TrimSpace(arg))
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		r.engine = e
		fmt.Fprintf(r.out, "using %s engine\n", e.Name())
	case "help":
		fmt.Fprintln(r.out, replHelp)
	case "quit", "q":
		return true
	default:
		fmt.Fprintf(r.out, "unknown command :%s (try :help)\n", cmd)
	}
	return false
}

func (r *repl) run() {
	b, err := bytecode.Load(r.f.Table(), r.b.Bytes(), false)
	if err == nil {
		err = b.TranslateJumpIndices()
	}
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	res := r.engine.Run(b.Bytes(), 0)
	printResult(r.out, r.engine.Name(), res)
	if res.Reason == vm.ExitOutOfBounds && res.Offset == b.Len() {
		fmt.Fprintln(r.out, "(ran off the end; finish with HALT)")
	}
}
