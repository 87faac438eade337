package vm

// operands holds the decoded fields of one instruction. No standard
// opcode has more than three.
type operands [3]int64

// opFunc executes one instruction that starts at pc and occupies size
// bytes. It returns the next program counter and running, or the exit
// reason that stops the run.
type opFunc func(ctx *Context, pc, size int, ops *operands) (int, ExitReason)

// semantics maps each standard opcode to its handler. The threaded
// engines index into it; the switch engine inlines the same calls.
var semantics [numOps]opFunc

func init() {
	semantics = [numOps]opFunc{
		OpNop:   opNop,
		OpHalt:  opHalt,
		OpPushB: opPush,
		OpPushS: opPush,
		OpPush:  opPush,
		OpPushL: opPush,
		OpPop: func(ctx *Context, pc, size int, _ *operands) (int, ExitReason) {
			return pc + size, ctx.drop()
		},
		OpDup: func(ctx *Context, pc, size int, _ *operands) (int, ExitReason) {
			return pc + size, ctx.dup()
		},
		OpSwap: func(ctx *Context, pc, size int, _ *operands) (int, ExitReason) {
			return pc + size, ctx.swap()
		},
		OpOver: func(ctx *Context, pc, size int, _ *operands) (int, ExitReason) {
			return pc + size, ctx.over()
		},
		OpAdd: binaryOp(OpAdd),
		OpSub: binaryOp(OpSub),
		OpMul: binaryOp(OpMul),
		OpDiv: binaryOp(OpDiv),
		OpMod: binaryOp(OpMod),
		OpNeg: unaryOp(OpNeg),
		OpEq:  binaryOp(OpEq),
		OpLt:  binaryOp(OpLt),
		OpGt:  binaryOp(OpGt),
		OpNot: unaryOp(OpNot),
		OpLoad: func(ctx *Context, pc, size int, ops *operands) (int, ExitReason) {
			return pc + size, ctx.load(ops[0])
		},
		OpStore: func(ctx *Context, pc, size int, ops *operands) (int, ExitReason) {
			return pc + size, ctx.store(ops[0])
		},
		OpIncLocal: func(ctx *Context, pc, size int, ops *operands) (int, ExitReason) {
			return pc + size, ctx.incLocal(ops[0], ops[1])
		},
		OpJmp: func(ctx *Context, pc, _ int, ops *operands) (int, ExitReason) {
			return pc + int(ops[0]), running
		},
		OpJmpIfZero:    condJump(true),
		OpJmpIfNotZero: condJump(false),
		OpJmpIfLt: func(ctx *Context, pc, size int, ops *operands) (int, ExitReason) {
			lt, r := ctx.localLess(ops[0], ops[1])
			if r == running && lt {
				return pc + int(ops[2]), running
			}
			return pc + size, r
		},
		OpRet: opHalt,
	}
}

func opNop(_ *Context, pc, size int, _ *operands) (int, ExitReason) {
	return pc + size, running
}

func opHalt(_ *Context, pc, _ int, _ *operands) (int, ExitReason) {
	return pc, ExitCompleted
}

func opPush(ctx *Context, pc, size int, ops *operands) (int, ExitReason) {
	return pc + size, ctx.push(ops[0])
}

func binaryOp(code int64) opFunc {
	return func(ctx *Context, pc, size int, _ *operands) (int, ExitReason) {
		return pc + size, ctx.binary(code)
	}
}

func unaryOp(code int64) opFunc {
	return func(ctx *Context, pc, size int, _ *operands) (int, ExitReason) {
		return pc + size, ctx.unary(code)
	}
}

func condJump(ifZero bool) opFunc {
	return func(ctx *Context, pc, size int, ops *operands) (int, ExitReason) {
		v, r := ctx.popCond()
		if r == running && (v == 0) == ifZero {
			return pc + int(ops[0]), running
		}
		return pc + size, r
	}
}
