package server

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/vmkernel/store"
	"github.com/chazu/vmkernel/vm"
)

// KernelServer serves the KernelService over the Connect protocol with
// the CBOR codec.
type KernelServer struct {
	pool    *Pool
	handles *HandleStore
	mux     *http.ServeMux
	log     commonlog.Logger
	http    *http.Server

	stopSweeper func()
}

// ServerOption configures a KernelServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers   int
	strategy  string
	programs  store.Store
	handleTTL time.Duration
	log       commonlog.Logger
}

// WithWorkers sets the number of run workers.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithDefaultStrategy sets the strategy used when a run request names none.
func WithDefaultStrategy(name string) ServerOption {
	return func(c *serverConfig) { c.strategy = name }
}

// WithStore enables saving and running programs by name.
func WithStore(s store.Store) ServerOption {
	return func(c *serverConfig) { c.programs = s }
}

// WithHandleTTL sets how long an unused program handle survives.
func WithHandleTTL(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.handleTTL = d }
}

// WithServerLogger sets the server logger.
func WithServerLogger(log commonlog.Logger) ServerOption {
	return func(c *serverConfig) { c.log = log }
}

// New creates a KernelServer running programs with engines from f.
func New(f *vm.Factory, opts ...ServerOption) *KernelServer {
	cfg := &serverConfig{
		workers:   4,
		strategy:  vm.StrategySwitch,
		handleTTL: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.log == nil {
		cfg.log = commonlog.GetLogger("vmkernel.server")
	}

	s := &KernelServer{
		pool:    NewPool(f, cfg.workers),
		handles: NewHandleStore(),
		mux:     http.NewServeMux(),
		log:     cfg.log,
	}

	svc := NewKernelService(s.pool, s.handles, cfg.programs, cfg.strategy)
	path, handler := NewKernelServiceHandler(svc, connect.WithInterceptors(s.logInterceptor()))
	s.mux.Handle(path, handler)

	s.stopSweeper = s.handles.StartSweeper(cfg.handleTTL/6+time.Second, cfg.handleTTL)

	return s
}

// logInterceptor logs every call and its outcome.
func (s *KernelServer) logInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				s.log.Infof("%s failed after %s: %v", req.Spec().Procedure, time.Since(start), err)
			} else {
				s.log.Debugf("%s ok in %s", req.Spec().Procedure, time.Since(start))
			}
			return resp, err
		}
	}
}

// Handler returns the HTTP handler serving every procedure.
func (s *KernelServer) Handler() http.Handler {
	return s.mux
}

// Handles returns the program handle store.
func (s *KernelServer) Handles() *HandleStore {
	return s.handles
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *KernelServer) ListenAndServe(addr string) error {
	s.log.Noticef("vmkernel server listening on %s", addr)
	s.log.Noticef("  Connect (HTTP/CBOR): http://%s%s", addr, RunProcedure)
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts down the server.
func (s *KernelServer) Stop() {
	if s.http != nil {
		s.http.Close()
	}
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.pool.Stop()
}
