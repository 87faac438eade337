package bytecode

import "fmt"

// Instruction is one decoded instruction of a buffer.
type Instruction struct {
	Index    int         // Position in the instruction sequence
	Offset   int         // Byte offset of the opcode
	Desc     *Descriptor // Layout of the instruction
	Operands []int64     // Decoded field values, in field order
}

// End returns the offset just past the instruction.
func (in Instruction) End() int {
	return in.Offset + in.Desc.Size
}

// String formats the instruction in assembler syntax.
func (in Instruction) String() string {
	s := in.Desc.Name
	for _, v := range in.Operands {
		s += fmt.Sprintf(" %d", v)
	}
	return s
}

// DecodeAt decodes the instruction starting at off. The returned
// instruction has Index set to -1; sequential walkers fill it in.
func (t *Table) DecodeAt(buf []byte, off int) (Instruction, error) {
	w := t.opcodeWidth
	if off < 0 || off+w > len(buf) {
		return Instruction{}, errTruncated
	}
	code := ReadInt(buf, off, w)
	d := t.Get(code)
	if d == nil {
		return Instruction{}, &UnknownInstructionError{Code: code, ByCode: true}
	}
	if off+d.Size > len(buf) {
		return Instruction{}, errTruncated
	}

	in := Instruction{Index: -1, Offset: off, Desc: d}
	if len(d.Fields) > 0 {
		in.Operands = make([]int64, len(d.Fields))
		pos := off + w
		for i, f := range d.Fields {
			in.Operands[i] = ReadInt(buf, pos, f.Width)
			pos += f.Width
		}
	}
	return in, nil
}

// Walk decodes buf sequentially from offset 0 and calls fn for each
// instruction. It stops at the first decode failure or error from fn.
func Walk(buf []byte, t *Table, fn func(Instruction) error) error {
	off := 0
	for idx := 0; off < len(buf); idx++ {
		in, err := t.DecodeAt(buf, off)
		if err != nil {
			return &DecodeError{Offset: off, Index: idx, Err: err}
		}
		in.Index = idx
		if err := fn(in); err != nil {
			return err
		}
		off += in.Desc.Size
	}
	return nil
}

// Decode returns every instruction of buf in order.
func Decode(buf []byte, t *Table) ([]Instruction, error) {
	var out []Instruction
	err := Walk(buf, t, func(in Instruction) error {
		out = append(out, in)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify checks that buf is well formed for t: sequential decoding from
// offset 0 consumes exactly len(buf) bytes and meets only known opcodes.
func Verify(buf []byte, t *Table) error {
	return Walk(buf, t, func(Instruction) error { return nil })
}

// Offsets returns the start offset of every instruction, followed by
// len(buf) as the offset one past the last instruction.
func Offsets(buf []byte, t *Table) ([]int, error) {
	var offsets []int
	err := Walk(buf, t, func(in Instruction) error {
		offsets = append(offsets, in.Offset)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append(offsets, len(buf)), nil
}
