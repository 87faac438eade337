// vmk assembles, inspects and runs programs for the vmkernel bytecode VM.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vmkernel/manifest"
	"github.com/chazu/vmkernel/vm"
)

var (
	Version = "dev"
	Commit  = "none"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	verbose  int
	logFile  string
	project  string
	strategy string

	m *manifest.Manifest
}

func main() {
	g := &globals{}

	root := &cobra.Command{
		Use:   "vmk",
		Short: "vmkernel bytecode VM toolkit",
		Long: `vmk assembles .vasm source into CBOR program images, runs them on
the switch, direct-threaded or token-threaded engine, and serves the
kernel over Connect RPC and LSP.

Settings are read from the nearest vmkernel.toml; flags override them.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var path *string
			if g.logFile != "" {
				path = &g.logFile
			}
			commonlog.Configure(g.verbose, path)
			return g.loadManifest()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.CountVarP(&g.verbose, "verbose", "v", "Increase log verbosity (repeatable)")
	pf.StringVar(&g.logFile, "log-file", "", "Write logs to this file instead of stderr")
	pf.StringVarP(&g.project, "project", "C", ".", "Directory to search upward for "+manifest.FileName)
	pf.StringVarP(&g.strategy, "strategy", "s", "", "Dispatch strategy (default from manifest)")

	root.AddCommand(
		newAsmCmd(g),
		newDisasmCmd(g),
		newRunCmd(g),
		newBenchCmd(g),
		newCfgCmd(g),
		newReplCmd(g),
		newServeCmd(g),
		newLspCmd(g),
		newStoreCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadManifest finds the project manifest, falling back to defaults.
func (g *globals) loadManifest() error {
	m, err := manifest.FindAndLoad(g.project)
	if err != nil {
		return err
	}
	if m == nil {
		m = manifest.Default()
	}
	g.m = m
	return nil
}

// factory builds a factory configured by the manifest.
func (g *globals) factory() (*vm.Factory, error) {
	return g.m.NewFactory()
}

// strategyName returns the --strategy flag or the manifest default.
func (g *globals) strategyName() string {
	if g.strategy != "" {
		return g.strategy
	}
	return g.m.Engine.Strategy
}
