package vm

// thread is one pre-resolved instruction: its handler and its decoded
// operands, so the dispatch loop never touches the raw bytes again.
type thread struct {
	fn   opFunc
	size int
	ops  operands
}

// DirectEngine resolves a buffer into a per-offset slice of threads
// before running it. The sequential pre-pass covers every instruction
// reachable by falling through from offset 0; offsets reached only by a
// jump (including jumps into the middle of an instruction) are resolved
// on first arrival with the same checks the other engines apply.
type DirectEngine struct {
	core
}

// Name implements Engine.
func (e *DirectEngine) Name() string { return StrategyDirect }

// Run implements Engine.
func (e *DirectEngine) Run(buf []byte, entry int) Result {
	return e.RunWith(buf, entry, nil)
}

// RunWith implements Engine.
func (e *DirectEngine) RunWith(buf []byte, entry int, locals []Cell) Result {
	ctx := e.newContext(entry, locals)
	threads := e.resolve(buf)

	for {
		if e.cfg.MaxSteps > 0 && ctx.Steps >= e.cfg.MaxSteps {
			return exit(ExitStepLimit, ctx)
		}
		pc := ctx.PC
		if pc < 0 || pc >= len(threads) {
			return exit(ExitOutOfBounds, ctx)
		}
		t := threads[pc]
		if t == nil {
			var r ExitReason
			t, r = e.resolveAt(buf, pc)
			if r != running {
				return exit(r, ctx)
			}
			threads[pc] = t
		}
		ctx.Steps++

		next, r := t.fn(ctx, pc, t.size, &t.ops)
		if r != running {
			return exit(r, ctx)
		}
		ctx.PC = next
	}
}

// resolve runs the sequential pre-pass. It stops at the first offset
// that does not hold a valid, implemented instruction; the run reports
// that fault only if control actually reaches it.
func (e *DirectEngine) resolve(buf []byte) []*thread {
	threads := make([]*thread, len(buf))
	for pc := 0; pc < len(buf); {
		t, r := e.resolveAt(buf, pc)
		if r != running {
			break
		}
		threads[pc] = t
		pc += t.size
	}
	return threads
}

// resolveAt builds the thread for the instruction at pc.
func (e *DirectEngine) resolveAt(buf []byte, pc int) (*thread, ExitReason) {
	d, r := e.lookup(buf, pc)
	if r != running {
		return nil, r
	}
	t := &thread{fn: semantics[d.Code], size: d.Size}
	decodeOperands(buf, pc+e.width, d, &t.ops)
	return t, running
}
