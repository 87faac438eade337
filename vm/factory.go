package vm

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/tliron/commonlog"
)

// UnknownStrategyError is returned by Create for an unrecognized
// strategy name.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("vm: unknown strategy %q (known: %s)", e.Name, strings.Join(Strategies(), ", "))
}

var constructors = map[string]func(core) Engine{
	StrategySwitch: func(c core) Engine { return &SwitchEngine{core: c} },
	StrategyToken:  func(c core) Engine { return newTokenEngine(c) },
	StrategyDirect: func(c core) Engine { return &DirectEngine{core: c} },
}

// Strategies returns the known strategy names in sorted order.
func Strategies() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithStackSize sets the operand stack capacity of every run.
func WithStackSize(n int) FactoryOption {
	return func(f *Factory) { f.cfg.StackSize = n }
}

// WithLocals sets the number of local slots of every run.
func WithLocals(n int) FactoryOption {
	return func(f *Factory) { f.cfg.Locals = n }
}

// WithMaxSteps bounds the number of instructions a run may dispatch.
// Zero, the default, means no bound.
func WithMaxSteps(n uint64) FactoryOption {
	return func(f *Factory) { f.cfg.MaxSteps = n }
}

// WithTable replaces the standard table with t. The table must be sealed
// and must carry the standard instruction set with its standard layouts.
func WithTable(t *bytecode.Table) FactoryOption {
	return func(f *Factory) { f.table = t }
}

// WithLogger sets the logger used for factory events.
func WithLogger(log commonlog.Logger) FactoryOption {
	return func(f *Factory) { f.log = log }
}

// Factory owns a sealed opcode table and creates engines bound to it.
// It is safe for concurrent use once constructed.
type Factory struct {
	table *bytecode.Table
	cfg   Config
	log   commonlog.Logger
}

// NewFactory builds the standard table, or validates the one supplied by
// WithTable, and returns a factory for it.
func NewFactory(opts ...FactoryOption) (*Factory, error) {
	f := &Factory{
		cfg: Config{StackSize: DefaultStackSize, Locals: DefaultLocals},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = commonlog.GetLogger("vmkernel.vm")
	}
	if f.cfg.StackSize < 0 || f.cfg.Locals < 0 {
		return nil, fmt.Errorf("vm: negative stack size %d or local count %d", f.cfg.StackSize, f.cfg.Locals)
	}

	if f.table == nil {
		t, err := NewStandardTable(OpcodeWidth)
		if err != nil {
			return nil, err
		}
		f.table = t
	}
	if err := CheckTable(f.table); err != nil {
		return nil, err
	}

	f.log.Debugf("factory ready: %d opcodes, stack %d, locals %d, max steps %d",
		f.table.Len(), f.cfg.StackSize, f.cfg.Locals, f.cfg.MaxSteps)
	return f, nil
}

// Create returns a new engine for the named strategy.
func (f *Factory) Create(strategy string) (Engine, error) {
	ctor, ok := constructors[strategy]
	if !ok {
		return nil, &UnknownStrategyError{Name: strategy}
	}
	f.log.Debugf("creating %s engine", strategy)
	return ctor(newCore(f.table, f.cfg)), nil
}

// Strategies returns the strategy names Create accepts.
func (f *Factory) Strategies() []string {
	return Strategies()
}

// Table returns the shared, sealed opcode table.
func (f *Factory) Table() *bytecode.Table {
	return f.table
}

// Config returns the run limits engines are created with.
func (f *Factory) Config() Config {
	return f.cfg
}

// Assemble reads assembler text from r and returns a builder holding the
// translated, ready-to-run buffer.
func (f *Factory) Assemble(r io.Reader) (*bytecode.Builder, error) {
	b := bytecode.NewBuilder(f.table)
	if err := b.DecodeFrom(r); err != nil {
		return nil, err
	}
	if err := b.TranslateJumpIndices(); err != nil {
		return nil, err
	}
	return b, nil
}

// AssembleString is Assemble for in-memory source.
func (f *Factory) AssembleString(src string) (*bytecode.Builder, error) {
	return f.Assemble(strings.NewReader(src))
}
