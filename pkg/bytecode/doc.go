// Package bytecode defines the variable-length instruction format used by
// the vmkernel engines, the opcode table that describes it, and the
// builder that assembles a textual instruction stream into a dense byte
// buffer.
//
// The format is designed for:
//   - Data-driven instruction sets (an instruction is an opcode plus an
//     ordered list of fixed-width signed fields)
//   - Fast sequential decoding (every descriptor knows its total size)
//   - Lossless text round-trips (disassembly re-assembles byte for byte)
//
// # Architecture Overview
//
//   - Descriptor: one instruction kind. Its Code is written literally at
//     the start of every encoded instruction, followed by each Field in
//     declaration order. Size is computed once at registration.
//
//   - Table: the registry of descriptors, indexed by name and by code.
//     A table is built once, sealed, and then shared read-only by every
//     engine that executes programs for it.
//
//   - Builder: accumulates raw bytes. It can append opcodes and fields
//     directly, emit whole instructions by name, assemble text with
//     DecodeFrom, and disassemble with EncodeTo.
//
// # Buffer Layout
//
// A buffer has no header and no embedded instruction boundaries:
//
//	[opcode:w] [field_1:w1] ... [field_k:wk] [opcode:w] ...
//
// All integers are little-endian and signed. Boundaries are recovered by
// decoding from offset 0 and advancing by each descriptor's Size. A buffer
// is well formed when that walk lands exactly on its end; Verify checks
// this.
//
// # Jump Fields
//
// Fields declared with kind FieldJump are authored as instruction indices
// relative to the jump instruction itself: "JMP 2" targets the instruction
// two positions after the JMP. TranslateJumpIndices rewrites every such
// field, once, into a byte offset relative to the jump instruction's own
// start offset, which is what the engines add to the program counter.
package bytecode
