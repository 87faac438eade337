// Package vm executes instruction buffers produced by pkg/bytecode.
//
// An Engine runs a buffer against an execution Context (program counter,
// bounded operand stack, local slots) until it halts with an ExitReason.
// Three dispatch strategies are provided, all bound to the same opcode
// table and all required to reach the same ExitReason and final Context
// for the same buffer:
//
//   - "switch": every step decodes the opcode and branches on it in one
//     switch statement.
//   - "token-threaded": the opcode value is a token indexing a dense table
//     of per-opcode handler functions.
//   - "direct-threaded": the buffer is resolved ahead of time into one
//     handle per instruction offset, carrying its handler and decoded
//     operands; the loop only follows handles.
//
// A Factory declares the standard instruction set once, seals the table
// and hands out engines that share it read-only. Engines may run
// concurrently on separate goroutines; each Run owns its Context.
//
// Runtime faults (stack overflow, unknown opcode, a program counter that
// leaves the buffer) are reported as ExitReason values, never as errors or
// panics. A program that loops forever never returns unless the engine was
// created with an explicit step budget (WithMaxSteps).
package vm
