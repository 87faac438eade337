package bytecode

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// EncodeTo disassembles the buffer into the textual instruction format,
// one instruction per line. Feeding the output back through DecodeFrom on
// a fresh builder reproduces the buffer byte for byte.
//
// Jump fields are written as stored: indices before translation, byte
// offsets after it.
func (b *Builder) EncodeTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	err := Walk(b.code, b.table, func(in Instruction) error {
		_, err := bw.WriteString(in.String() + "\n")
		return err
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// Disassemble returns a human-readable listing of buf.
func Disassemble(buf []byte, t *Table) string {
	return DisassembleWithName(buf, t, "")
}

// DisassembleWithName returns a human-readable listing with a name header.
// Each line shows the byte offset, the instruction index and the
// instruction; translated jumps are annotated with their absolute target.
// Undecodable trailing bytes are reported rather than hidden.
func DisassembleWithName(buf []byte, t *Table, name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; opcode width %d, %d bytes\n", t.OpcodeWidth(), len(buf)))
	sb.WriteString("; Code:\n")

	err := Walk(buf, t, func(in Instruction) error {
		line := in.String()
		if targets := branchTargets(in); len(targets) > 0 {
			hex := make([]string, len(targets))
			for i, off := range targets {
				hex[i] = fmt.Sprintf("%04X", off)
			}
			line = fmt.Sprintf("%-28s ; -> %s", line, strings.Join(hex, ", "))
		}
		sb.WriteString(fmt.Sprintf("%04X  [%3d]  %s\n", in.Offset, in.Index, line))
		return nil
	})
	if err != nil {
		sb.WriteString(fmt.Sprintf("; error: %v\n", err))
	}

	return sb.String()
}
