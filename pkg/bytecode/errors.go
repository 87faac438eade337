package bytecode

import (
	"errors"
	"fmt"
)

var (
	// ErrTableSealed is returned by Register once the table is sealed.
	ErrTableSealed = errors.New("bytecode: opcode table is sealed")

	// ErrFinalized is returned when appending to a builder whose jump
	// indices have already been translated.
	ErrFinalized = errors.New("bytecode: buffer is finalized")

	// ErrAlreadyTranslated matches *AlreadyTranslatedError with errors.Is.
	ErrAlreadyTranslated = errors.New("bytecode: jump indices already translated")

	// ErrFieldOverflow is returned when a value does not fit its field.
	ErrFieldOverflow = errors.New("bytecode: value does not fit field width")
)

// DuplicateOpcodeError reports a second descriptor for an opcode value.
type DuplicateOpcodeError struct {
	Code     int64
	Name     string // Rejected descriptor
	Existing string // Descriptor already holding the code
}

func (e *DuplicateOpcodeError) Error() string {
	return fmt.Sprintf("bytecode: opcode %d for %s is already registered to %s", e.Code, e.Name, e.Existing)
}

// DuplicateNameError reports a second descriptor for a mnemonic.
type DuplicateNameError struct {
	Name     string
	Code     int64 // Rejected descriptor
	Existing int64 // Code of the descriptor already holding the name
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("bytecode: mnemonic %s (opcode %d) is already registered with opcode %d", e.Name, e.Code, e.Existing)
}

// InvalidDescriptorError reports a descriptor that cannot be encoded.
type InvalidDescriptorError struct {
	Name   string
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("bytecode: invalid descriptor %q: %s", e.Name, e.Reason)
}

// UnknownInstructionError reports a mnemonic or opcode with no descriptor.
type UnknownInstructionError struct {
	Name   string
	Code   int64
	ByCode bool // Lookup was by opcode value rather than by name
	Line   int  // 1-based source line, 0 when not assembling text
}

func (e *UnknownInstructionError) Error() string {
	var msg string
	if e.ByCode {
		msg = fmt.Sprintf("unknown opcode %d", e.Code)
	} else {
		msg = fmt.Sprintf("unknown instruction %q", e.Name)
	}
	if e.Line > 0 {
		return fmt.Sprintf("bytecode: line %d: %s", e.Line, msg)
	}
	return "bytecode: " + msg
}

// MalformedOperandError reports an operand that cannot be encoded, or a
// wrong number of operands for a mnemonic.
type MalformedOperandError struct {
	Line     int    // 1-based source line, 0 for programmatic emission
	Mnemonic string
	Operand  int    // 1-based operand position, 0 for a count mismatch
	Text     string // Offending token
	Want     int    // Expected operand count (count mismatches)
	Got      int    // Actual operand count (count mismatches)
	Err      error
}

func (e *MalformedOperandError) Error() string {
	var msg string
	if e.Operand == 0 {
		msg = fmt.Sprintf("%s takes %d operand(s), got %d", e.Mnemonic, e.Want, e.Got)
	} else {
		msg = fmt.Sprintf("%s operand %d %q: %v", e.Mnemonic, e.Operand, e.Text, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("bytecode: line %d: %s", e.Line, msg)
	}
	return "bytecode: " + msg
}

func (e *MalformedOperandError) Unwrap() error {
	return e.Err
}

// AlreadyTranslatedError is returned by a second TranslateJumpIndices call.
// Indices cannot be recovered from offsets, so translation is one-shot.
type AlreadyTranslatedError struct{}

func (e *AlreadyTranslatedError) Error() string {
	return ErrAlreadyTranslated.Error()
}

func (e *AlreadyTranslatedError) Is(target error) bool {
	return target == ErrAlreadyTranslated
}

// JumpTargetError reports a jump field whose target cannot be translated.
type JumpTargetError struct {
	Index  int   // Index of the jump instruction
	Offset int   // Byte offset of the jump instruction
	Target int64 // Resolved target index
	Count  int   // Number of instructions in the buffer
	Width  int   // Field width, set when the offset overflowed it
}

func (e *JumpTargetError) Error() string {
	if e.Width > 0 {
		return fmt.Sprintf("bytecode: jump at instruction %d (offset %d) to %d overflows a %d-byte field",
			e.Index, e.Offset, e.Target, e.Width)
	}
	return fmt.Sprintf("bytecode: jump at instruction %d (offset %d) targets instruction %d outside [0, %d]",
		e.Index, e.Offset, e.Target, e.Count)
}

// DecodeError reports a failure to decode the instruction at Offset.
type DecodeError struct {
	Offset int
	Index  int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode: instruction %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// errTruncated is wrapped in a DecodeError when an instruction runs past
// the end of the buffer.
var errTruncated = errors.New("instruction runs past end of buffer")
