package bytecode

import "sort"

// Flow classifies how control leaves an instruction.
type Flow uint8

const (
	FlowNext   Flow = iota // Falls through to the next instruction
	FlowBranch             // Conditionally jumps or falls through
	FlowJump               // Always jumps
	FlowStop               // Ends execution
)

// FlowFunc classifies a descriptor. The table has no notion of
// semantics, so the instruction set supplies one.
type FlowFunc func(*Descriptor) Flow

// DefaultFlow treats any instruction with a jump field as a conditional
// branch and everything else as straight-line code.
func DefaultFlow(d *Descriptor) Flow {
	if d.HasJump() {
		return FlowBranch
	}
	return FlowNext
}

// Block is a maximal straight-line run of instructions.
type Block struct {
	Start        int           // Offset of the first instruction
	End          int           // Offset just past the last instruction
	Instructions []Instruction
	Succs        []int // Start offsets of successor blocks
}

// BasicBlocks splits a translated buffer into basic blocks. Leaders are
// offset 0, every in-range jump target that starts an instruction, and
// every instruction following a jump or stop. Jumps that land outside
// the buffer or inside an instruction contribute no successor.
func BasicBlocks(buf []byte, t *Table, flow FlowFunc) ([]Block, error) {
	if flow == nil {
		flow = DefaultFlow
	}
	insns, err := Decode(buf, t)
	if err != nil {
		return nil, err
	}
	if len(insns) == 0 {
		return nil, nil
	}

	starts := make(map[int]bool, len(insns))
	for _, in := range insns {
		starts[in.Offset] = true
	}

	leaders := map[int]bool{0: true}
	for _, in := range insns {
		kind := flow(in.Desc)
		for _, target := range branchTargets(in) {
			if starts[target] {
				leaders[target] = true
			}
		}
		if kind != FlowNext && in.End() < len(buf) {
			leaders[in.End()] = true
		}
	}

	var blocks []Block
	var cur *Block
	for _, in := range insns {
		if leaders[in.Offset] {
			blocks = append(blocks, Block{Start: in.Offset})
			cur = &blocks[len(blocks)-1]
		}
		cur.Instructions = append(cur.Instructions, in)
		cur.End = in.End()
	}

	for i := range blocks {
		blk := &blocks[i]
		last := blk.Instructions[len(blk.Instructions)-1]
		kind := flow(last.Desc)
		succ := map[int]bool{}
		if kind == FlowBranch || kind == FlowJump {
			for _, target := range branchTargets(last) {
				if starts[target] {
					succ[target] = true
				}
			}
		}
		if (kind == FlowNext || kind == FlowBranch) && blk.End < len(buf) {
			succ[blk.End] = true
		}
		for off := range succ {
			blk.Succs = append(blk.Succs, off)
		}
		sort.Ints(blk.Succs)
	}

	return blocks, nil
}

func branchTargets(in Instruction) []int {
	var out []int
	for i, f := range in.Desc.Fields {
		if f.Kind == FieldJump {
			out = append(out, in.Offset+int(in.Operands[i]))
		}
	}
	return out
}
