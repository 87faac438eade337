package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/vmkernel/vm"
)

// ErrPoolStopped is returned for requests submitted after Stop.
var ErrPoolStopped = errors.New("server: worker pool stopped")

// runRequest represents one program run to be executed by a worker.
type runRequest struct {
	strategy string
	code     []byte
	entry    int
	locals   []vm.Cell
	done     chan runResult
}

// runResult holds the outcome of a run.
type runResult struct {
	result vm.Result
	err    error
}

// Pool runs programs on a fixed set of worker goroutines. Every worker
// creates its engines from the same factory, so all of them share one
// sealed opcode table.
type Pool struct {
	factory  *vm.Factory
	requests chan runRequest
	quit     chan struct{}
}

// NewPool creates a pool of n workers and starts them.
func NewPool(f *vm.Factory, n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		factory:  f,
		requests: make(chan runRequest, 64),
		quit:     make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		go p.loop()
	}
	return p
}

// loop processes run requests on a dedicated goroutine. Engines are
// created lazily per strategy and reused for the worker's lifetime.
func (p *Pool) loop() {
	engines := make(map[string]vm.Engine)
	for {
		select {
		case req := <-p.requests:
			req.done <- p.execute(engines, req)
		case <-p.quit:
			return
		}
	}
}

// execute runs one request, recovering from panics.
func (p *Pool) execute(engines map[string]vm.Engine, req runRequest) (res runResult) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("server: run panicked: %v", r)
		}
	}()

	e, ok := engines[req.strategy]
	if !ok {
		var err error
		e, err = p.factory.Create(req.strategy)
		if err != nil {
			return runResult{err: err}
		}
		engines[req.strategy] = e
	}
	return runResult{result: e.RunWith(req.code, req.entry, req.locals)}
}

// Run submits a program for execution and blocks until it completes or
// ctx is done. A run that has started is not interrupted; cancelling ctx
// only stops the caller from waiting for it.
func (p *Pool) Run(ctx context.Context, strategy string, code []byte, entry int, locals []vm.Cell) (vm.Result, error) {
	if err := ctx.Err(); err != nil {
		return vm.Result{}, err
	}
	req := runRequest{
		strategy: strategy,
		code:     code,
		entry:    entry,
		locals:   locals,
		done:     make(chan runResult, 1),
	}

	select {
	case p.requests <- req:
	case <-ctx.Done():
		return vm.Result{}, ctx.Err()
	case <-p.quit:
		return vm.Result{}, ErrPoolStopped
	}

	select {
	case res := <-req.done:
		return res.result, res.err
	case <-ctx.Done():
		return vm.Result{}, ctx.Err()
	case <-p.quit:
		return vm.Result{}, ErrPoolStopped
	}
}

// Factory returns the factory the workers create engines from.
func (p *Pool) Factory() *vm.Factory {
	return p.factory
}

// Stop shuts down the worker goroutines.
func (p *Pool) Stop() {
	close(p.quit)
}
