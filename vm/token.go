package vm

import "github.com/chazu/vmkernel/pkg/bytecode"

// TokenEngine treats each opcode value as a token indexing a dense
// handler table built once from the opcode table.
type TokenEngine struct {
	core
	handlers []opFunc
}

func newTokenEngine(c core) *TokenEngine {
	e := &TokenEngine{core: c}
	e.handlers = make([]opFunc, c.table.MaxCode()+1)
	for _, d := range c.table.Descriptors() {
		if implemented(d.Code) {
			e.handlers[d.Code] = semantics[d.Code]
		}
	}
	return e
}

// Name implements Engine.
func (e *TokenEngine) Name() string { return StrategyToken }

// Run implements Engine.
func (e *TokenEngine) Run(buf []byte, entry int) Result {
	return e.RunWith(buf, entry, nil)
}

// RunWith implements Engine.
func (e *TokenEngine) RunWith(buf []byte, entry int, locals []Cell) Result {
	ctx := e.newContext(entry, locals)
	var ops operands

	for {
		d, r := e.fetch(ctx, buf)
		if r != running {
			return exit(r, ctx)
		}
		ctx.Steps++

		pc := ctx.PC
		decodeOperands(buf, pc+e.width, d, &ops)
		next, r := e.handlers[d.Code](ctx, pc, d.Size, &ops)
		if r != running {
			return exit(r, ctx)
		}
		ctx.PC = next
	}
}

// decodeOperands reads the fields of d starting at pos into ops.
func decodeOperands(buf []byte, pos int, d *bytecode.Descriptor, ops *operands) {
	for i, f := range d.Fields {
		ops[i] = bytecode.ReadInt(buf, pos, f.Width)
		pos += f.Width
	}
}
