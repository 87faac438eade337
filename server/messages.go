package server

import "github.com/chazu/vmkernel/vm"

// AssembleRequest asks the server to assemble source text.
type AssembleRequest struct {
	Name   string    `cbor:"1,keyasint,omitempty"`
	Source string    `cbor:"2,keyasint"`
	Locals []vm.Cell `cbor:"3,keyasint,omitempty"`
	Save   bool      `cbor:"4,keyasint,omitempty"` // Also persist to the program store
}

// AssembleResponse describes the assembled program.
type AssembleResponse struct {
	Handle      string `cbor:"1,keyasint"`
	Size        int    `cbor:"2,keyasint"`
	Count       int    `cbor:"3,keyasint"`
	Fingerprint string `cbor:"4,keyasint"`
	Code        []byte `cbor:"5,keyasint"`
}

// ProgramRef selects a program by handle, stored name or raw code.
// Exactly one field must be set.
type ProgramRef struct {
	Handle string `cbor:"1,keyasint,omitempty"`
	Name   string `cbor:"2,keyasint,omitempty"`
	Code   []byte `cbor:"3,keyasint,omitempty"`
}

// DisassembleRequest asks for the listing of a program.
type DisassembleRequest struct {
	Program ProgramRef `cbor:"1,keyasint"`
}

// DisassembleResponse carries the listing of a program.
type DisassembleResponse struct {
	Listing      string            `cbor:"1,keyasint"`
	Instructions []InstructionInfo `cbor:"2,keyasint"`
}

// InstructionInfo is one decoded instruction.
type InstructionInfo struct {
	Index    int     `cbor:"1,keyasint"`
	Offset   int     `cbor:"2,keyasint"`
	Name     string  `cbor:"3,keyasint"`
	Operands []int64 `cbor:"4,keyasint,omitempty"`
}

// RunRequest asks the server to execute a program.
type RunRequest struct {
	Program  ProgramRef `cbor:"1,keyasint"`
	Strategy string     `cbor:"2,keyasint,omitempty"` // Server default when empty
	Entry    int        `cbor:"3,keyasint,omitempty"`
	Locals   []vm.Cell  `cbor:"4,keyasint,omitempty"` // Overrides the program's seeded locals
}

// RunResponse reports how a run ended.
type RunResponse struct {
	Reason   string      `cbor:"1,keyasint"`
	Code     uint8       `cbor:"2,keyasint"`
	Offset   int         `cbor:"3,keyasint"`
	Context  vm.Snapshot `cbor:"4,keyasint"`
	Strategy string      `cbor:"5,keyasint"`
}

// ListInstructionsRequest asks for the opcode table.
type ListInstructionsRequest struct{}

// DescriptorInfo describes one opcode.
type DescriptorInfo struct {
	Code   int64    `cbor:"1,keyasint"`
	Name   string   `cbor:"2,keyasint"`
	Fields []string `cbor:"3,keyasint,omitempty"`
	Size   int      `cbor:"4,keyasint"`
}

// ListInstructionsResponse describes the server's opcode table.
type ListInstructionsResponse struct {
	OpcodeWidth  int              `cbor:"1,keyasint"`
	Fingerprint  string           `cbor:"2,keyasint"`
	Instructions []DescriptorInfo `cbor:"3,keyasint"`
}

// ListStrategiesRequest asks for the dispatch strategies.
type ListStrategiesRequest struct{}

// ListStrategiesResponse lists the dispatch strategies.
type ListStrategiesResponse struct {
	Strategies []string `cbor:"1,keyasint"`
	Default    string   `cbor:"2,keyasint"`
}
