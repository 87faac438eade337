package bytecode

// TranslateJumpIndices rewrites every jump field from index space to
// byte-offset space. It must run exactly once, after the whole program
// has been appended and before the buffer is executed.
//
// A jump field authored as k in instruction i targets instruction i+k.
// Targets may range over [0, n], where n is the instruction count and
// names the offset one past the end of the buffer. The field is
// rewritten to offset(i+k) - offset(i), relative to the start of the jump
// instruction itself.
//
// Nothing is rewritten unless every jump field translates cleanly. After
// a successful call the builder is finalized and rejects further appends.
func (b *Builder) TranslateJumpIndices() error {
	if b.translated {
		return &AlreadyTranslatedError{}
	}

	insns, err := Decode(b.code, b.table)
	if err != nil {
		return err
	}

	offsets := make([]int, len(insns)+1)
	for i, in := range insns {
		offsets[i] = in.Offset
	}
	offsets[len(insns)] = len(b.code)

	type patch struct {
		at    int
		width int
		value int64
	}
	var patches []patch

	for _, in := range insns {
		if !in.Desc.HasJump() {
			continue
		}
		pos := in.Offset + b.table.opcodeWidth
		for fi, f := range in.Desc.Fields {
			if f.Kind == FieldJump {
				target := int64(in.Index) + in.Operands[fi]
				if target < 0 || target > int64(len(insns)) {
					return &JumpTargetError{
						Index:  in.Index,
						Offset: in.Offset,
						Target: target,
						Count:  len(insns),
					}
				}
				rel := int64(offsets[target] - in.Offset)
				if !FitsWidth(rel, f.Width) {
					return &JumpTargetError{
						Index:  in.Index,
						Offset: in.Offset,
						Target: target,
						Count:  len(insns),
						Width:  f.Width,
					}
				}
				patches = append(patches, patch{at: pos, width: f.Width, value: rel})
			}
			pos += f.Width
		}
	}

	for _, p := range patches {
		PutInt(b.code[p.at:], p.width, p.value)
	}
	b.translated = true
	return nil
}
