package vm

import "github.com/chazu/vmkernel/pkg/bytecode"

// SwitchEngine decodes the opcode at every step and branches on it in a
// single switch statement.
type SwitchEngine struct {
	core
}

// Name implements Engine.
func (e *SwitchEngine) Name() string { return StrategySwitch }

// Run implements Engine.
func (e *SwitchEngine) Run(buf []byte, entry int) Result {
	return e.RunWith(buf, entry, nil)
}

// RunWith implements Engine.
func (e *SwitchEngine) RunWith(buf []byte, entry int, locals []Cell) Result {
	ctx := e.newContext(entry, locals)
	w := e.width

	for {
		d, r := e.fetch(ctx, buf)
		if r != running {
			return exit(r, ctx)
		}
		ctx.Steps++

		pc := ctx.PC
		ops := pc + w
		next := pc + d.Size

		switch d.Code {
		case OpNop:
		case OpHalt, OpRet:
			return exit(ExitCompleted, ctx)
		case OpPushB:
			r = ctx.push(bytecode.ReadInt(buf, ops, 1))
		case OpPushS:
			r = ctx.push(bytecode.ReadInt(buf, ops, 2))
		case OpPush:
			r = ctx.push(bytecode.ReadInt(buf, ops, 4))
		case OpPushL:
			r = ctx.push(bytecode.ReadInt(buf, ops, 8))
		case OpPop:
			r = ctx.drop()
		case OpDup:
			r = ctx.dup()
		case OpSwap:
			r = ctx.swap()
		case OpOver:
			r = ctx.over()
		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpLt, OpGt:
			r = ctx.binary(d.Code)
		case OpNeg, OpNot:
			r = ctx.unary(d.Code)
		case OpLoad:
			r = ctx.load(bytecode.ReadInt(buf, ops, LocalWidth))
		case OpStore:
			r = ctx.store(bytecode.ReadInt(buf, ops, LocalWidth))
		case OpIncLocal:
			r = ctx.incLocal(bytecode.ReadInt(buf, ops, LocalWidth), bytecode.ReadInt(buf, ops+LocalWidth, 4))
		case OpJmp:
			next = pc + int(bytecode.ReadInt(buf, ops, JumpWidth))
		case OpJmpIfZero, OpJmpIfNotZero:
			var v Cell
			v, r = ctx.popCond()
			if r == running && (v == 0) == (d.Code == OpJmpIfZero) {
				next = pc + int(bytecode.ReadInt(buf, ops, JumpWidth))
			}
		case OpJmpIfLt:
			var lt bool
			lt, r = ctx.localLess(bytecode.ReadInt(buf, ops, LocalWidth), bytecode.ReadInt(buf, ops+LocalWidth, 4))
			if r == running && lt {
				next = pc + int(bytecode.ReadInt(buf, ops+LocalWidth+4, JumpWidth))
			}
		default:
			r = ExitInvalidOpcode
		}

		if r != running {
			return exit(r, ctx)
		}
		ctx.PC = next
	}
}
