package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/chazu/vmkernel/server"
	"github.com/chazu/vmkernel/store"
)

var log = commonlog.GetLogger("vmkernel.vmk")

func newServeCmd(g *globals) *cobra.Command {
	var (
		addr    string
		workers int
		dsn     string
		noStore bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the kernel over Connect RPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.factory()
			if err != nil {
				return err
			}

			if addr == "" {
				addr = g.m.Server.Addr
			}
			if workers == 0 {
				workers = g.m.Server.Workers
			}
			opts := []server.ServerOption{
				server.WithWorkers(workers),
				server.WithDefaultStrategy(g.strategyName()),
				server.WithHandleTTL(g.m.HandleTTL()),
			}

			if !noStore {
				if dsn == "" {
					dsn = g.m.StoreDSN()
				}
				programs, err := store.Open(dsn)
				if err != nil {
					return err
				}
				defer programs.Close()
				opts = append(opts, server.WithStore(programs))
			}

			srv := server.New(f, opts...)
			defer srv.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				log.Notice("shutting down")
				srv.Stop()
			}()

			return srv.ListenAndServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from manifest)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Run workers (default from manifest)")
	cmd.Flags().StringVar(&dsn, "store", "", "Program store DSN (default from manifest)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Serve without a program store")
	return cmd
}

func newLspCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Run the .vasm language server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.factory()
			if err != nil {
				return err
			}
			return server.NewLSP(f).Run()
		},
	}
}
