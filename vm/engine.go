package vm

import "github.com/chazu/vmkernel/pkg/bytecode"

// Strategy names accepted by Factory.Create.
const (
	StrategySwitch = "switch"
	StrategyDirect = "direct-threaded"
	StrategyToken  = "token-threaded"
)

// Engine runs translated instruction buffers.
type Engine interface {
	// Name returns the dispatch strategy name.
	Name() string

	// Run executes buf from byte offset entry with zeroed locals.
	Run(buf []byte, entry int) Result

	// RunWith is Run with the leading local slots seeded from locals.
	// Extra values beyond the configured slot count are ignored.
	RunWith(buf []byte, entry int, locals []Cell) Result
}

// Config holds the per-run limits shared by every engine a factory
// creates.
type Config struct {
	StackSize int    // Operand stack capacity
	Locals    int    // Number of local slots
	MaxSteps  uint64 // Instruction budget; 0 means unlimited
}

// Default run limits.
const (
	DefaultStackSize = 32
	DefaultLocals    = 64
)

// core is the state every engine shares: the sealed table and the run
// limits. It implements the fetch sequence all strategies agree on.
type core struct {
	table *bytecode.Table
	cfg   Config
	width int
}

func newCore(t *bytecode.Table, cfg Config) core {
	return core{table: t, cfg: cfg, width: t.OpcodeWidth()}
}

func (c *core) newContext(entry int, locals []Cell) *Context {
	ctx := NewContext(c.cfg.StackSize, c.cfg.Locals)
	copy(ctx.Locals, locals)
	ctx.PC = entry
	return ctx
}

// fetch validates the instruction at ctx.PC and returns its descriptor.
// The checks run in a fixed order so that every engine reports the same
// ExitReason for the same malformed input.
func (c *core) fetch(ctx *Context, buf []byte) (*bytecode.Descriptor, ExitReason) {
	if c.cfg.MaxSteps > 0 && ctx.Steps >= c.cfg.MaxSteps {
		return nil, ExitStepLimit
	}
	return c.lookup(buf, ctx.PC)
}

// lookup is fetch without the step budget.
func (c *core) lookup(buf []byte, pc int) (*bytecode.Descriptor, ExitReason) {
	if pc < 0 || pc >= len(buf) || pc+c.width > len(buf) {
		return nil, ExitOutOfBounds
	}
	d := c.table.Get(bytecode.ReadInt(buf, pc, c.width))
	if d == nil {
		return nil, ExitInvalidOpcode
	}
	if pc+d.Size > len(buf) {
		return nil, ExitOutOfBounds
	}
	if !implemented(d.Code) {
		return nil, ExitInvalidOpcode
	}
	return d, running
}

func exit(r ExitReason, ctx *Context) Result {
	return Result{Reason: r, Offset: ctx.PC, Context: ctx}
}
