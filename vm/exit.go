package vm

import "fmt"

// ExitReason is the terminal outcome of a run.
type ExitReason uint8

const (
	// ExitCompleted means a HALT or RET instruction executed.
	ExitCompleted ExitReason = iota

	// ExitOutOfBounds means the program counter left the buffer, an
	// instruction ran past its end, or a local slot index was invalid.
	ExitOutOfBounds

	// ExitStackFault means the operand stack overflowed or underflowed.
	ExitStackFault

	// ExitInvalidOpcode means the opcode at the program counter has no
	// descriptor or no implementation.
	ExitInvalidOpcode

	// ExitArithmeticFault means a division or modulo by zero.
	ExitArithmeticFault

	// ExitStepLimit means the engine's step budget ran out.
	ExitStepLimit

	// running is never returned from a run; handlers use it to signal
	// that execution continues.
	running ExitReason = 0xFF
)

var exitNames = [...]string{
	ExitCompleted:       "completed",
	ExitOutOfBounds:     "out of bounds",
	ExitStackFault:      "stack fault",
	ExitInvalidOpcode:   "invalid opcode",
	ExitArithmeticFault: "arithmetic fault",
	ExitStepLimit:       "step limit",
}

func (r ExitReason) String() string {
	if int(r) < len(exitNames) {
		return exitNames[r]
	}
	return fmt.Sprintf("ExitReason(%d)", r)
}

// Result describes how a run ended.
type Result struct {
	Reason ExitReason

	// Offset is the program counter at exit: the start of the instruction
	// that halted or faulted, or the out-of-range offset that was reached.
	Offset int

	// Context is the execution context at exit.
	Context *Context
}

// Err returns nil for a completed run and a *Fault otherwise.
func (r Result) Err() error {
	if r.Reason == ExitCompleted {
		return nil
	}
	return &Fault{Reason: r.Reason, Offset: r.Offset}
}

// Fault is the error form of an abnormal Result.
type Fault struct {
	Reason ExitReason
	Offset int
}

func (f *Fault) Error() string {
	return fmt.Sprintf("vm: %s at offset %d", f.Reason, f.Offset)
}
