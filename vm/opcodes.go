package vm

import (
	"fmt"

	"github.com/chazu/vmkernel/pkg/bytecode"
)

// Field widths of the standard instruction set.
const (
	OpcodeWidth = bytecode.DefaultOpcodeWidth
	LocalWidth  = 4
	JumpWidth   = 4
)

// Standard opcodes.
const (
	OpNop          int64 = 0
	OpHalt         int64 = 1
	OpPushB        int64 = 2
	OpPushS        int64 = 3
	OpPush         int64 = 4
	OpPushL        int64 = 5
	OpPop          int64 = 6
	OpDup          int64 = 7
	OpSwap         int64 = 8
	OpOver         int64 = 9
	OpAdd          int64 = 10
	OpSub          int64 = 11
	OpMul          int64 = 12
	OpDiv          int64 = 13
	OpMod          int64 = 14
	OpNeg          int64 = 15
	OpEq           int64 = 16
	OpLt           int64 = 17
	OpGt           int64 = 18
	OpNot          int64 = 19
	OpLoad         int64 = 20
	OpStore        int64 = 21
	OpIncLocal     int64 = 22
	OpJmp          int64 = 23
	OpJmpIfZero    int64 = 24
	OpJmpIfNotZero int64 = 25
	OpJmpIfLt      int64 = 26
	OpRet          int64 = 27

	numOps = 28
)

// InstructionSet lists the standard descriptors in code order.
func InstructionSet() []bytecode.Descriptor {
	return []bytecode.Descriptor{
		{Code: OpNop, Name: "NOP"},
		{Code: OpHalt, Name: "HALT"},
		{Code: OpPushB, Name: "PUSHB", Fields: []bytecode.Field{bytecode.Int(1)}},
		{Code: OpPushS, Name: "PUSHS", Fields: []bytecode.Field{bytecode.Int(2)}},
		{Code: OpPush, Name: "PUSH", Fields: []bytecode.Field{bytecode.Int(4)}},
		{Code: OpPushL, Name: "PUSHL", Fields: []bytecode.Field{bytecode.Int(8)}},
		{Code: OpPop, Name: "POP"},
		{Code: OpDup, Name: "DUP"},
		{Code: OpSwap, Name: "SWAP"},
		{Code: OpOver, Name: "OVER"},
		{Code: OpAdd, Name: "ADD"},
		{Code: OpSub, Name: "SUB"},
		{Code: OpMul, Name: "MUL"},
		{Code: OpDiv, Name: "DIV"},
		{Code: OpMod, Name: "MOD"},
		{Code: OpNeg, Name: "NEG"},
		{Code: OpEq, Name: "EQ"},
		{Code: OpLt, Name: "LT"},
		{Code: OpGt, Name: "GT"},
		{Code: OpNot, Name: "NOT"},
		{Code: OpLoad, Name: "LOAD", Fields: []bytecode.Field{bytecode.Local(LocalWidth)}},
		{Code: OpStore, Name: "STORE", Fields: []bytecode.Field{bytecode.Local(LocalWidth)}},
		{Code: OpIncLocal, Name: "INCLOCAL", Fields: []bytecode.Field{bytecode.Local(LocalWidth), bytecode.Int(4)}},
		{Code: OpJmp, Name: "JMP", Fields: []bytecode.Field{bytecode.Jump(JumpWidth)}},
		{Code: OpJmpIfZero, Name: "JMPIFZERO", Fields: []bytecode.Field{bytecode.Jump(JumpWidth)}},
		{Code: OpJmpIfNotZero, Name: "JMPIFNOTZERO", Fields: []bytecode.Field{bytecode.Jump(JumpWidth)}},
		{Code: OpJmpIfLt, Name: "JMPIFLT", Fields: []bytecode.Field{bytecode.Local(LocalWidth), bytecode.Int(4), bytecode.Jump(JumpWidth)}},
		{Code: OpRet, Name: "RET"},
	}
}

// DeclareInstructionSet registers the standard instruction set into t.
// The table is left unsealed so callers can add their own descriptors
// before sealing; such extras decode and disassemble but execute as
// ExitInvalidOpcode.
func DeclareInstructionSet(t *bytecode.Table) error {
	for _, d := range InstructionSet() {
		if _, err := t.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewStandardTable returns a sealed table holding the standard
// instruction set with the given opcode width.
func NewStandardTable(opcodeWidth int) (*bytecode.Table, error) {
	t, err := bytecode.NewTable(opcodeWidth)
	if err != nil {
		return nil, err
	}
	if err := DeclareInstructionSet(t); err != nil {
		return nil, fmt.Errorf("vm: declare instruction set: %w", err)
	}
	t.Seal()
	return t, nil
}

// CheckTable reports whether t carries every standard descriptor with
// its standard layout. Engines rely on those layouts when reading
// operands.
func CheckTable(t *bytecode.Table) error {
	if !t.Sealed() {
		return fmt.Errorf("vm: opcode table is not sealed")
	}
	for _, want := range InstructionSet() {
		got := t.Get(want.Code)
		if got == nil {
			return fmt.Errorf("vm: opcode table is missing %s (code %d)", want.Name, want.Code)
		}
		if got.Name != want.Name || !sameFields(got.Fields, want.Fields) {
			return fmt.Errorf("vm: opcode %d is %q, want %q", want.Code, got.String(), want.String())
		}
	}
	return nil
}

func sameFields(a, b []bytecode.Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Flow classifies standard opcodes for control-flow analysis.
func Flow(d *bytecode.Descriptor) bytecode.Flow {
	switch d.Code {
	case OpHalt, OpRet:
		return bytecode.FlowStop
	case OpJmp:
		return bytecode.FlowJump
	}
	return bytecode.DefaultFlow(d)
}

// implemented reports whether code has standard semantics.
func implemented(code int64) bool {
	return code >= 0 && code < numOps
}
