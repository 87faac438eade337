package bytecode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// DefaultOpcodeWidth is the opcode width used when a table is created
// with a width of 0.
const DefaultOpcodeWidth = 4

// MaxOpcode bounds the dense by-code index of a table.
const MaxOpcode = 0xFFFF

// FieldKind tells tooling how an operand field is used. The builder only
// ever looks at widths, except during jump translation.
type FieldKind uint8

const (
	// FieldInt is a plain signed immediate.
	FieldInt FieldKind = iota

	// FieldLocal is an index into the local-variable slots.
	FieldLocal

	// FieldJump is a jump target: an instruction index before
	// translation, a self-relative byte offset after.
	FieldJump
)

// String returns a human-readable name for FieldKind.
func (k FieldKind) String() string {
	switch k {
	case FieldInt:
		return "int"
	case FieldLocal:
		return "local"
	case FieldJump:
		return "jump"
	default:
		return fmt.Sprintf("FieldKind(%d)", k)
	}
}

// Field declares one operand of an instruction.
type Field struct {
	Width int       // Encoded width in bytes: 1, 2, 4 or 8
	Kind  FieldKind // How the operand is interpreted
}

// Int declares a signed immediate field of the given width.
func Int(width int) Field { return Field{Width: width, Kind: FieldInt} }

// Local declares a local-slot index field of the given width.
func Local(width int) Field { return Field{Width: width, Kind: FieldLocal} }

// Jump declares a jump-target field of the given width.
func Jump(width int) Field { return Field{Width: width, Kind: FieldJump} }

func (f Field) String() string {
	return fmt.Sprintf("%s:%d", f.Kind, f.Width)
}

// Descriptor declares the shape of one instruction kind.
type Descriptor struct {
	Code   int64   // Opcode value, stored literally in the stream
	Name   string  // Mnemonic, case-sensitive
	Fields []Field // Operands in encoding order

	// Size is the opcode width plus the sum of the field widths.
	// It is set by Table.Register and never changes afterwards.
	Size int
}

// FieldWidths returns the width of each operand field.
func (d *Descriptor) FieldWidths() []int {
	widths := make([]int, len(d.Fields))
	for i, f := range d.Fields {
		widths[i] = f.Width
	}
	return widths
}

// HasJump reports whether any field is a jump target.
func (d *Descriptor) HasJump() bool {
	for _, f := range d.Fields {
		if f.Kind == FieldJump {
			return true
		}
	}
	return false
}

// String returns the descriptor layout, e.g. "JMPIFLT local:4 int:4 jump:4".
func (d *Descriptor) String() string {
	var sb strings.Builder
	sb.WriteString(d.Name)
	for _, f := range d.Fields {
		sb.WriteByte(' ')
		sb.WriteString(f.String())
	}
	return sb.String()
}

// Table maps mnemonics and opcode values to descriptors.
//
// A table is append-only while it is being built and read-only once
// Seal has been called. Lookups take no locks, so all registration must
// happen before the table is handed to engines running on other
// goroutines.
type Table struct {
	opcodeWidth int
	byName      map[string]*Descriptor
	byCode      []*Descriptor
	sealed      bool
}

// NewTable creates an empty table whose opcodes are encoded with the
// given width. A width of 0 selects DefaultOpcodeWidth.
func NewTable(opcodeWidth int) (*Table, error) {
	if opcodeWidth == 0 {
		opcodeWidth = DefaultOpcodeWidth
	}
	if !ValidWidth(opcodeWidth) {
		return nil, fmt.Errorf("bytecode: invalid opcode width %d (want 1, 2, 4 or 8)", opcodeWidth)
	}
	return &Table{
		opcodeWidth: opcodeWidth,
		byName:      make(map[string]*Descriptor),
	}, nil
}

// OpcodeWidth returns the number of bytes used to encode an opcode.
func (t *Table) OpcodeWidth() int {
	return t.opcodeWidth
}

// Register adds a descriptor to the table and returns the stored copy
// with its Size filled in.
func (t *Table) Register(d Descriptor) (*Descriptor, error) {
	if t.sealed {
		return nil, ErrTableSealed
	}
	if d.Name == "" || strings.ContainsAny(d.Name, " \t\r\n;#") {
		return nil, &InvalidDescriptorError{Name: d.Name, Reason: "mnemonic must be a non-empty word"}
	}
	if d.Code < 0 || d.Code > MaxOpcode || !FitsWidth(d.Code, t.opcodeWidth) {
		return nil, &InvalidDescriptorError{
			Name:   d.Name,
			Reason: fmt.Sprintf("code %d is not representable in a %d-byte opcode", d.Code, t.opcodeWidth),
		}
	}
	for i, f := range d.Fields {
		if !ValidWidth(f.Width) {
			return nil, &InvalidDescriptorError{
				Name:   d.Name,
				Reason: fmt.Sprintf("field %d has invalid width %d", i+1, f.Width),
			}
		}
	}
	if existing := t.Get(d.Code); existing != nil {
		return nil, &DuplicateOpcodeError{Code: d.Code, Name: d.Name, Existing: existing.Name}
	}
	if existing, ok := t.byName[d.Name]; ok {
		return nil, &DuplicateNameError{Name: d.Name, Code: d.Code, Existing: existing.Code}
	}

	stored := &Descriptor{
		Code:   d.Code,
		Name:   d.Name,
		Fields: append([]Field(nil), d.Fields...),
		Size:   t.opcodeWidth,
	}
	for _, f := range stored.Fields {
		stored.Size += f.Width
	}

	t.byName[stored.Name] = stored
	if int(stored.Code) >= len(t.byCode) {
		grown := make([]*Descriptor, stored.Code+1)
		copy(grown, t.byCode)
		t.byCode = grown
	}
	t.byCode[stored.Code] = stored
	return stored, nil
}

// MustRegister is like Register but panics on error. It is meant for
// instruction sets declared in code at startup.
func (t *Table) MustRegister(d Descriptor) *Descriptor {
	stored, err := t.Register(d)
	if err != nil {
		panic(err)
	}
	return stored
}

// Seal ends the construction phase. Register fails afterwards.
func (t *Table) Seal() {
	t.sealed = true
}

// Sealed reports whether Seal has been called.
func (t *Table) Sealed() bool {
	return t.sealed
}

// LookupName returns the descriptor registered under name.
func (t *Table) LookupName(name string) (*Descriptor, error) {
	if d, ok := t.byName[name]; ok {
		return d, nil
	}
	return nil, &UnknownInstructionError{Name: name}
}

// LookupCode returns the descriptor registered for code.
func (t *Table) LookupCode(code int64) (*Descriptor, error) {
	if d := t.Get(code); d != nil {
		return d, nil
	}
	return nil, &UnknownInstructionError{Code: code, ByCode: true}
}

// Get is the allocation-free form of LookupCode used on hot paths.
// It returns nil when no descriptor is registered for code.
func (t *Table) Get(code int64) *Descriptor {
	if code < 0 || code >= int64(len(t.byCode)) {
		return nil
	}
	return t.byCode[code]
}

// Len returns the number of registered descriptors.
func (t *Table) Len() int {
	return len(t.byName)
}

// MaxCode returns the highest registered opcode, or -1 for an empty table.
func (t *Table) MaxCode() int64 {
	return int64(len(t.byCode)) - 1
}

// Descriptors returns every descriptor sorted by opcode.
func (t *Table) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(t.byName))
	for _, d := range t.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Fingerprint returns a stable digest of the opcode width and every
// descriptor layout. Two tables with the same fingerprint encode and
// decode identically.
func (t *Table) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "opcode-width %d\n", t.opcodeWidth)
	for _, d := range t.Descriptors() {
		fmt.Fprintf(h, "%d %s\n", d.Code, d.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}
