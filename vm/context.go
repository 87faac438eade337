package vm

// Cell is the fixed-size value held by stack and local slots. The kernel
// gives it no meaning beyond integer arithmetic; a value model layered on
// top may treat cells as opaque handles.
type Cell = int64

// Context is the mutable state of one run. It is created fresh for every
// run and owned exclusively by it.
type Context struct {
	PC     int    // Byte offset of the next instruction
	Stack  []Cell // Operand stack, bottom first; len never exceeds capacity
	Locals []Cell // Local variable slots
	Steps  uint64 // Instructions dispatched so far
}

// NewContext creates a context with an empty stack of the given capacity
// and nlocals zeroed local slots.
func NewContext(stackSize, nlocals int) *Context {
	return &Context{
		Stack:  make([]Cell, 0, stackSize),
		Locals: make([]Cell, nlocals),
	}
}

// Snapshot is a deep copy of a Context, suitable for comparison and for
// sending over the wire.
type Snapshot struct {
	PC     int    `cbor:"1,keyasint"`
	Stack  []Cell `cbor:"2,keyasint"`
	Locals []Cell `cbor:"3,keyasint"`
	Steps  uint64 `cbor:"4,keyasint"`
}

// Snapshot returns a deep copy of the context.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		PC:     c.PC,
		Stack:  append([]Cell{}, c.Stack...),
		Locals: append([]Cell{}, c.Locals...),
		Steps:  c.Steps,
	}
}

// Depth returns the operand stack depth.
func (c *Context) Depth() int {
	return len(c.Stack)
}

// Top returns the top of the stack and whether the stack was non-empty.
func (c *Context) Top() (Cell, bool) {
	if len(c.Stack) == 0 {
		return 0, false
	}
	return c.Stack[len(c.Stack)-1], true
}

// The operations below are shared by every engine. Each one checks all
// of its preconditions before touching the context, so a faulting
// instruction leaves the state exactly as it found it.

func (c *Context) push(v Cell) ExitReason {
	if len(c.Stack) == cap(c.Stack) {
		return ExitStackFault
	}
	c.Stack = append(c.Stack, v)
	return running
}

func (c *Context) drop() ExitReason {
	if len(c.Stack) == 0 {
		return ExitStackFault
	}
	c.Stack = c.Stack[:len(c.Stack)-1]
	return running
}

func (c *Context) dup() ExitReason {
	n := len(c.Stack)
	if n == 0 || n == cap(c.Stack) {
		return ExitStackFault
	}
	c.Stack = append(c.Stack, c.Stack[n-1])
	return running
}

func (c *Context) swap() ExitReason {
	n := len(c.Stack)
	if n < 2 {
		return ExitStackFault
	}
	c.Stack[n-1], c.Stack[n-2] = c.Stack[n-2], c.Stack[n-1]
	return running
}

func (c *Context) over() ExitReason {
	n := len(c.Stack)
	if n < 2 || n == cap(c.Stack) {
		return ExitStackFault
	}
	c.Stack = append(c.Stack, c.Stack[n-2])
	return running
}

// binary pops b then a and pushes a op b.
func (c *Context) binary(code int64) ExitReason {
	n := len(c.Stack)
	if n < 2 {
		return ExitStackFault
	}
	a, b := c.Stack[n-2], c.Stack[n-1]
	var r Cell
	switch code {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpDiv:
		if b == 0 {
			return ExitArithmeticFault
		}
		r = a / b
	case OpMod:
		if b == 0 {
			return ExitArithmeticFault
		}
		r = a % b
	case OpEq:
		r = boolCell(a == b)
	case OpLt:
		r = boolCell(a < b)
	case OpGt:
		r = boolCell(a > b)
	default:
		return ExitInvalidOpcode
	}
	c.Stack[n-2] = r
	c.Stack = c.Stack[:n-1]
	return running
}

// unary replaces the top of stack with op(top).
func (c *Context) unary(code int64) ExitReason {
	n := len(c.Stack)
	if n == 0 {
		return ExitStackFault
	}
	switch code {
	case OpNeg:
		c.Stack[n-1] = -c.Stack[n-1]
	case OpNot:
		c.Stack[n-1] = boolCell(c.Stack[n-1] == 0)
	default:
		return ExitInvalidOpcode
	}
	return running
}

func (c *Context) load(slot int64) ExitReason {
	if slot < 0 || slot >= int64(len(c.Locals)) {
		return ExitOutOfBounds
	}
	return c.push(c.Locals[slot])
}

func (c *Context) store(slot int64) ExitReason {
	if slot < 0 || slot >= int64(len(c.Locals)) {
		return ExitOutOfBounds
	}
	n := len(c.Stack)
	if n == 0 {
		return ExitStackFault
	}
	c.Locals[slot] = c.Stack[n-1]
	c.Stack = c.Stack[:n-1]
	return running
}

func (c *Context) incLocal(slot, delta int64) ExitReason {
	if slot < 0 || slot >= int64(len(c.Locals)) {
		return ExitOutOfBounds
	}
	c.Locals[slot] += delta
	return running
}

// popCond pops the branch condition of a conditional jump.
func (c *Context) popCond() (Cell, ExitReason) {
	n := len(c.Stack)
	if n == 0 {
		return 0, ExitStackFault
	}
	v := c.Stack[n-1]
	c.Stack = c.Stack[:n-1]
	return v, running
}

func (c *Context) localLess(slot, k int64) (bool, ExitReason) {
	if slot < 0 || slot >= int64(len(c.Locals)) {
		return false, ExitOutOfBounds
	}
	return c.Locals[slot] < k, running
}

func boolCell(b bool) Cell {
	if b {
		return 1
	}
	return 0
}
