package bytecode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Builder accumulates the bytes of an instruction buffer.
//
// The low-level AppendOpcode/AppendField calls do not check that the
// fields following an opcode match its descriptor; callers that use them
// directly own that contract. Emit and DecodeFrom go through the table
// and always produce whole, well-formed instructions.
type Builder struct {
	table      *Table
	code       []byte
	count      int  // Number of opcodes appended
	stale      bool // count predates an AppendRaw
	translated bool
}

// NewBuilder creates an empty builder bound to t.
func NewBuilder(t *Table) *Builder {
	return &Builder{table: t, code: make([]byte, 0, 64)}
}

// Table returns the opcode table the builder encodes against.
func (b *Builder) Table() *Table {
	return b.table
}

// AppendOpcode writes code using the table's opcode width.
func (b *Builder) AppendOpcode(code int64) error {
	if b.translated {
		return ErrFinalized
	}
	if !FitsWidth(code, b.table.opcodeWidth) {
		return fmt.Errorf("opcode %d: %w", code, ErrFieldOverflow)
	}
	b.code = appendInt(b.code, b.table.opcodeWidth, code)
	b.count++
	return nil
}

// AppendField writes v as a signed field of exactly width bytes.
func (b *Builder) AppendField(width int, v int64) error {
	if b.translated {
		return ErrFinalized
	}
	if !ValidWidth(width) {
		return fmt.Errorf("bytecode: invalid field width %d", width)
	}
	if !FitsWidth(v, width) {
		return fmt.Errorf("value %d in %d bytes: %w", v, width, ErrFieldOverflow)
	}
	b.code = appendInt(b.code, width, v)
	return nil
}

// AppendRaw writes raw bytes verbatim. The instruction count is
// recomputed from the buffer the next time it is needed.
func (b *Builder) AppendRaw(raw []byte) error {
	if b.translated {
		return ErrFinalized
	}
	b.code = append(b.code, raw...)
	b.stale = true
	return nil
}

// Emit appends one whole instruction and returns its index.
func (b *Builder) Emit(name string, operands ...int64) (int, error) {
	if b.translated {
		return 0, ErrFinalized
	}
	d, err := b.table.LookupName(name)
	if err != nil {
		return 0, err
	}
	if err := checkOperands(d, operands, 0); err != nil {
		return 0, err
	}
	idx := b.Count()
	b.emit(d, operands)
	return idx, nil
}

func (b *Builder) emit(d *Descriptor, operands []int64) {
	b.code = appendInt(b.code, b.table.opcodeWidth, d.Code)
	for i, f := range d.Fields {
		b.code = appendInt(b.code, f.Width, operands[i])
	}
	b.count++
}

func checkOperands(d *Descriptor, operands []int64, line int) error {
	if len(operands) != len(d.Fields) {
		return &MalformedOperandError{
			Line:     line,
			Mnemonic: d.Name,
			Want:     len(d.Fields),
			Got:      len(operands),
		}
	}
	for i, f := range d.Fields {
		if !FitsWidth(operands[i], f.Width) {
			return &MalformedOperandError{
				Line:     line,
				Mnemonic: d.Name,
				Operand:  i + 1,
				Text:     strconv.FormatInt(operands[i], 10),
				Err:      ErrFieldOverflow,
			}
		}
	}
	return nil
}

// DecodeFrom assembles a textual instruction stream, one instruction per
// line:
//
//	<mnemonic> <operand_1> ... <operand_k>
//
// Operands are signed decimal integers. Blank lines and text after ';'
// or '#' are ignored. The whole stream is assembled before anything is
// appended, so on error the buffer is left unchanged.
func (b *Builder) DecodeFrom(r io.Reader) error {
	if b.translated {
		return ErrFinalized
	}

	stage := &Builder{table: b.table}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := stripComment(scanner.Text())
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		d, err := b.table.LookupName(fields[0])
		if err != nil {
			return &UnknownInstructionError{Name: fields[0], Line: line}
		}

		tokens := fields[1:]
		if len(tokens) != len(d.Fields) {
			return &MalformedOperandError{
				Line:     line,
				Mnemonic: d.Name,
				Want:     len(d.Fields),
				Got:      len(tokens),
			}
		}
		operands := make([]int64, len(tokens))
		for i, tok := range tokens {
			v, err := strconv.ParseInt(tok, 10, 8*d.Fields[i].Width)
			if err != nil {
				return &MalformedOperandError{
					Line:     line,
					Mnemonic: d.Name,
					Operand:  i + 1,
					Text:     tok,
					Err:      err,
				}
			}
			operands[i] = v
		}
		stage.emit(d, operands)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bytecode: reading line %d: %w", line+1, err)
	}

	b.code = append(b.code, stage.code...)
	b.count += stage.count
	return nil
}

// InstructionLines returns the 1-based source line of every instruction
// in assembler text, in instruction order. It applies the same comment
// and blank-line rules as DecodeFrom.
func InstructionLines(src string) []int {
	var lines []int
	for i, text := range strings.Split(src, "\n") {
		if len(strings.Fields(stripComment(text))) > 0 {
			lines = append(lines, i+1)
		}
	}
	return lines
}

func stripComment(s string) string {
	if i := strings.IndexAny(s, ";#"); i >= 0 {
		return s[:i]
	}
	return s
}

// Bytes returns the encoded buffer. The slice aliases the builder's
// storage; it must not be modified.
func (b *Builder) Bytes() []byte {
	return b.code
}

// Len returns the buffer length in bytes.
func (b *Builder) Len() int {
	return len(b.code)
}

// Count returns the number of instructions in the buffer. After
// AppendRaw it counts the whole instructions that decode from the start
// of the buffer.
func (b *Builder) Count() int {
	if b.stale {
		n := 0
		err := Walk(b.code, b.table, func(Instruction) error {
			n++
			return nil
		})
		b.count = n
		if err == nil {
			b.stale = false
		}
	}
	return b.count
}

// Translated reports whether TranslateJumpIndices has run.
func (b *Builder) Translated() bool {
	return b.translated
}

// Instructions decodes the buffer sequentially.
func (b *Builder) Instructions() ([]Instruction, error) {
	return Decode(b.code, b.table)
}

// Reset empties the builder so it can be reused.
func (b *Builder) Reset() {
	b.code = b.code[:0]
	b.count = 0
	b.stale = false
	b.translated = false
}

// Load wraps an existing buffer, such as one read back from a program
// image, in a builder. The buffer must decode cleanly. A translated
// buffer yields a finalized builder.
func Load(t *Table, code []byte, translated bool) (*Builder, error) {
	ins, err := Decode(code, t)
	if err != nil {
		return nil, err
	}
	return &Builder{
		table:      t,
		code:       append([]byte(nil), code...),
		count:      len(ins),
		translated: translated,
	}, nil
}
