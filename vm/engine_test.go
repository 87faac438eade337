package vm

import (
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newFactory(t testing.TB, opts ...FactoryOption) *Factory {
	t.Helper()
	f, err := NewFactory(opts...)
	require.NoError(t, err)
	return f
}

func assembleProgram(t testing.TB, f *Factory, src string) []byte {
	t.Helper()
	b, err := f.AssembleString(src)
	require.NoError(t, err)
	return b.Bytes()
}

// runAll runs buf on every strategy, checks that they agree and returns
// the switch engine's result.
func runAll(t *testing.T, f *Factory, buf []byte, entry int, locals ...Cell) Result {
	t.Helper()
	var first Result
	for i, name := range f.Strategies() {
		e, err := f.Create(name)
		require.NoError(t, err)
		res := e.RunWith(buf, entry, locals)
		if i == 0 {
			first = res
			continue
		}
		if !assert.Equal(t, first.Reason, res.Reason, "%s reason", name) ||
			!assert.Equal(t, first.Offset, res.Offset, "%s offset", name) ||
			!assert.Equal(t, first.Context.Snapshot(), res.Context.Snapshot(), "%s context", name) {
			t.Logf("buffer:\n%s", bytecode.Disassemble(buf, f.Table()))
			t.Logf("%s context: %s", f.Strategies()[0], spew.Sdump(first.Context))
			t.Logf("%s context: %s", name, spew.Sdump(res.Context))
		}
	}
	return first
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestAddAndHalt(t *testing.T) {
	f := newFactory(t)
	buf := assembleProgram(t, f, "PUSH 5\nPUSH 3\nADD\nHALT\n")

	res := runAll(t, f, buf, 0)
	assert.Equal(t, ExitCompleted, res.Reason)
	assert.Equal(t, []Cell{8}, res.Context.Stack)
	assert.Equal(t, 20, res.Offset, "HALT starts after two 8-byte pushes and ADD")
	assert.Equal(t, uint64(4), res.Context.Steps)
	assert.NoError(t, res.Err())
}

func TestConditionalSkip(t *testing.T) {
	f := newFactory(t)
	buf := assembleProgram(t, f, "PUSH 0\nJMPIFZERO 2\nPUSH 99\nHALT\n")

	res := runAll(t, f, buf, 0)
	assert.Equal(t, ExitCompleted, res.Reason)
	assert.Empty(t, res.Context.Stack)
	assert.Equal(t, 24, res.Offset)
	assert.Equal(t, uint64(3), res.Context.Steps)
}

func TestConditionalFallThrough(t *testing.T) {
	f := newFactory(t)
	buf := assembleProgram(t, f, "PUSH 1\nJMPIFZERO 2\nPUSH 99\nHALT\n")

	res := runAll(t, f, buf, 0)
	assert.Equal(t, ExitCompleted, res.Reason)
	assert.Equal(t, []Cell{99}, res.Context.Stack)
}

func TestCountedLoop(t *testing.T) {
	f := newFactory(t)
	src := `
		PUSH 0
		STORE 0
		INCLOCAL 0 1      ; loop body
		JMPIFLT 0 10 -1   ; back to INCLOCAL while local0 < 10
		LOAD 0
		HALT
	`
	res := runAll(t, f, assembleProgram(t, f, src), 0)
	assert.Equal(t, ExitCompleted, res.Reason)
	assert.Equal(t, []Cell{10}, res.Context.Stack)
	assert.Equal(t, Cell(10), res.Context.Locals[0])
	assert.Equal(t, uint64(24), res.Context.Steps)
}

func TestRunWithSeedsLocals(t *testing.T) {
	f := newFactory(t, WithLocals(2))
	buf := assembleProgram(t, f, "LOAD 0\nLOAD 1\nMUL\nRET\n")

	res := runAll(t, f, buf, 0, 6, 7, 8)
	assert.Equal(t, ExitCompleted, res.Reason)
	assert.Equal(t, []Cell{42}, res.Context.Stack)
	assert.Len(t, res.Context.Locals, 2)
}

func TestEntryOffset(t *testing.T) {
	f := newFactory(t)
	buf := assembleProgram(t, f, "PUSH 1\nPUSH 2\nHALT\n")

	res := runAll(t, f, buf, 8)
	assert.Equal(t, ExitCompleted, res.Reason)
	assert.Equal(t, []Cell{2}, res.Context.Stack)
}

// ---------------------------------------------------------------------------
// Arithmetic and stack shuffling
// ---------------------------------------------------------------------------

func TestOperations(t *testing.T) {
	f := newFactory(t)
	tests := []struct {
		name string
		src  string
		want []Cell
	}{
		{"sub order", "PUSH 10\nPUSH 3\nSUB", []Cell{7}},
		{"mul", "PUSH -4\nPUSH 6\nMUL", []Cell{-24}},
		{"div truncates", "PUSH -7\nPUSH 2\nDIV", []Cell{-3}},
		{"mod sign", "PUSH -7\nPUSH 2\nMOD", []Cell{-1}},
		{"min div -1 wraps", "PUSHL -9223372036854775808\nPUSH -1\nDIV", []Cell{-9223372036854775808}},
		{"neg", "PUSH 5\nNEG", []Cell{-5}},
		{"eq", "PUSH 3\nPUSH 3\nEQ\nPUSH 3\nPUSH 4\nEQ", []Cell{1, 0}},
		{"lt gt", "PUSH 1\nPUSH 2\nLT\nPUSH 1\nPUSH 2\nGT", []Cell{1, 0}},
		{"not", "PUSH 0\nNOT\nPUSH 9\nNOT", []Cell{1, 0}},
		{"dup", "PUSH 4\nDUP", []Cell{4, 4}},
		{"swap", "PUSH 1\nPUSH 2\nSWAP", []Cell{2, 1}},
		{"over", "PUSH 1\nPUSH 2\nOVER", []Cell{1, 2, 1}},
		{"pop", "PUSH 1\nPUSH 2\nPOP", []Cell{1}},
		{"narrow pushes sign extend", "PUSHB -1\nPUSHS -300\nPUSHL 4294967296", []Cell{-1, -300, 4294967296}},
		{"store load", "PUSH 11\nSTORE 3\nLOAD 3\nLOAD 3\nADD", []Cell{22}},
		{"jmpifnotzero", "PUSH 7\nJMPIFNOTZERO 2\nPUSH 1\nPUSH 2", []Cell{2}},
		{"nop", "NOP\nNOP", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runAll(t, f, assembleProgram(t, f, tt.src+"\nHALT\n"), 0)
			require.Equal(t, ExitCompleted, res.Reason, "fault: %v", res.Err())
			if tt.want == nil {
				assert.Empty(t, res.Context.Stack)
				return
			}
			assert.Equal(t, tt.want, res.Context.Stack)
		})
	}
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestStackOverflow(t *testing.T) {
	f := newFactory(t, WithStackSize(2))
	buf := assembleProgram(t, f, "PUSH 1\nPUSH 2\nPUSH 3\nHALT\n")

	res := runAll(t, f, buf, 0)
	assert.Equal(t, ExitStackFault, res.Reason)
	assert.Equal(t, 16, res.Offset)
	assert.Equal(t, []Cell{1, 2}, res.Context.Stack, "faulting push must not modify the stack")
}

func TestStackUnderflow(t *testing.T) {
	f := newFactory(t)
	for _, src := range []string{"ADD", "POP", "DUP", "PUSH 1\nSWAP", "PUSH 1\nOVER", "STORE 0", "NEG", "JMPIFZERO 1"} {
		res := runAll(t, f, assembleProgram(t, f, src+"\nHALT\n"), 0)
		assert.Equal(t, ExitStackFault, res.Reason, src)
	}
}

func TestDivisionByZero(t *testing.T) {
	f := newFactory(t)
	for _, op := range []string{"DIV", "MOD"} {
		res := runAll(t, f, assembleProgram(t, f, "PUSH 1\nPUSH 0\n"+op+"\nHALT\n"), 0)
		assert.Equal(t, ExitArithmeticFault, res.Reason, op)
		assert.Equal(t, []Cell{1, 0}, res.Context.Stack, op)
		assert.Equal(t, 16, res.Offset, op)
	}
}

func TestLocalOutOfRange(t *testing.T) {
	f := newFactory(t, WithLocals(4))
	for _, src := range []string{"LOAD 4", "PUSH 1\nSTORE -1", "INCLOCAL 9 1", "JMPIFLT 4 0 1"} {
		res := runAll(t, f, assembleProgram(t, f, src+"\nHALT\n"), 0)
		assert.Equal(t, ExitOutOfBounds, res.Reason, src)
	}
}

func TestInvalidOpcode(t *testing.T) {
	f := newFactory(t)

	b := bytecode.NewBuilder(f.Table())
	require.NoError(t, b.AppendRaw([]byte{99, 0, 0, 0}))
	res := runAll(t, f, b.Bytes(), 0)
	assert.Equal(t, ExitInvalidOpcode, res.Reason)
	assert.Equal(t, 0, res.Offset)
	assert.Equal(t, uint64(0), res.Context.Steps)

	// A valid prefix runs before the unknown opcode is reached.
	src := assembleProgram(t, f, "PUSH 1\n")
	res = runAll(t, f, append(src, 0xFF, 0xFF, 0xFF, 0xFF), 0)
	assert.Equal(t, ExitInvalidOpcode, res.Reason)
	assert.Equal(t, 8, res.Offset)
	assert.Equal(t, []Cell{1}, res.Context.Stack)
}

func TestDeclaredButUnimplementedOpcode(t *testing.T) {
	tbl, err := bytecode.NewTable(OpcodeWidth)
	require.NoError(t, err)
	require.NoError(t, DeclareInstructionSet(tbl))
	tbl.MustRegister(bytecode.Descriptor{Code: 40, Name: "TRAP", Fields: []bytecode.Field{bytecode.Int(2)}})
	tbl.Seal()

	f := newFactory(t, WithTable(tbl))
	buf := assembleProgram(t, f, "PUSH 1\nTRAP 7\nHALT\n")
	res := runAll(t, f, buf, 0)
	assert.Equal(t, ExitInvalidOpcode, res.Reason)
	assert.Equal(t, 8, res.Offset)
}

func TestOutOfBounds(t *testing.T) {
	f := newFactory(t)

	t.Run("empty buffer", func(t *testing.T) {
		res := runAll(t, f, nil, 0)
		assert.Equal(t, ExitOutOfBounds, res.Reason)
		assert.Equal(t, 0, res.Offset)
	})

	t.Run("falls off the end", func(t *testing.T) {
		res := runAll(t, f, assembleProgram(t, f, "NOP\n"), 0)
		assert.Equal(t, ExitOutOfBounds, res.Reason)
		assert.Equal(t, 4, res.Offset)
		assert.Equal(t, uint64(1), res.Context.Steps)
	})

	t.Run("negative entry", func(t *testing.T) {
		res := runAll(t, f, assembleProgram(t, f, "HALT\n"), -4)
		assert.Equal(t, ExitOutOfBounds, res.Reason)
	})

	t.Run("jump past the end", func(t *testing.T) {
		b := bytecode.NewBuilder(f.Table())
		require.NoError(t, b.AppendOpcode(OpJmp))
		require.NoError(t, b.AppendField(JumpWidth, 100))
		res := runAll(t, f, b.Bytes(), 0)
		assert.Equal(t, ExitOutOfBounds, res.Reason)
		assert.Equal(t, 100, res.Offset)
	})

	t.Run("jump to end", func(t *testing.T) {
		res := runAll(t, f, assembleProgram(t, f, "JMP 1\n"), 0)
		assert.Equal(t, ExitOutOfBounds, res.Reason)
		assert.Equal(t, 8, res.Offset)
	})

	t.Run("truncated operand", func(t *testing.T) {
		b := bytecode.NewBuilder(f.Table())
		require.NoError(t, b.AppendOpcode(OpPush))
		require.NoError(t, b.AppendRaw([]byte{1, 0}))
		res := runAll(t, f, b.Bytes(), 0)
		assert.Equal(t, ExitOutOfBounds, res.Reason)
		assert.Equal(t, 0, res.Offset)
	})

	t.Run("truncated opcode", func(t *testing.T) {
		res := runAll(t, f, []byte{1, 0}, 0)
		assert.Equal(t, ExitOutOfBounds, res.Reason)
	})
}

func TestJumpIntoInstruction(t *testing.T) {
	f := newFactory(t)
	// PUSH's operand bytes happen to spell HALT; jumping onto them must
	// behave the same under every strategy.
	b := bytecode.NewBuilder(f.Table())
	require.NoError(t, b.AppendOpcode(OpJmp))
	require.NoError(t, b.AppendField(JumpWidth, 12))
	require.NoError(t, b.AppendOpcode(OpPush))
	require.NoError(t, b.AppendField(4, OpHalt))

	res := runAll(t, f, b.Bytes(), 0)
	assert.Equal(t, ExitCompleted, res.Reason)
	assert.Equal(t, 12, res.Offset)
	assert.Empty(t, res.Context.Stack)
}

func TestStepLimit(t *testing.T) {
	f := newFactory(t, WithMaxSteps(100))
	res := runAll(t, f, assembleProgram(t, f, "NOP\nJMP -1\n"), 0)
	assert.Equal(t, ExitStepLimit, res.Reason)
	assert.Equal(t, uint64(100), res.Context.Steps)

	var fault *Fault
	require.ErrorAs(t, res.Err(), &fault)
	assert.Equal(t, ExitStepLimit, fault.Reason)
}

func TestExitReasonString(t *testing.T) {
	assert.Equal(t, "completed", ExitCompleted.String())
	assert.Equal(t, "invalid opcode", ExitInvalidOpcode.String())
	assert.Equal(t, "ExitReason(99)", ExitReason(99).String())
	assert.Contains(t, (&Fault{Reason: ExitStackFault, Offset: 16}).Error(), "stack fault at offset 16")
}

// ---------------------------------------------------------------------------
// Equivalence over generated buffers
// ---------------------------------------------------------------------------

// randomProgram emits n instructions drawn from the table, with small
// jump offsets and the occasional stray byte, so that runs exercise every
// exit reason.
func randomProgram(rng *rand.Rand, tbl *bytecode.Table, n int) []byte {
	descs := tbl.Descriptors()
	b := bytecode.NewBuilder(tbl)
	for i := 0; i < n; i++ {
		if rng.Intn(25) == 0 {
			b.AppendRaw([]byte{byte(rng.Intn(256))})
			continue
		}
		d := descs[rng.Intn(len(descs))]
		b.AppendOpcode(d.Code)
		for _, fld := range d.Fields {
			var v int64
			switch fld.Kind {
			case bytecode.FieldJump:
				v = int64(rng.Intn(64) - 32)
			case bytecode.FieldLocal:
				v = int64(rng.Intn(10))
			default:
				v = int64(rng.Intn(200) - 100)
			}
			b.AppendField(fld.Width, v)
		}
	}
	return b.Bytes()
}

func TestStrategiesAgreeOnGeneratedPrograms(t *testing.T) {
	f := newFactory(t, WithStackSize(8), WithLocals(8), WithMaxSteps(500))
	rng := rand.New(rand.NewSource(1))
	seen := map[ExitReason]int{}
	for i := 0; i < 500; i++ {
		buf := randomProgram(rng, f.Table(), 1+rng.Intn(30))
		res := runAll(t, f, buf, 0)
		seen[res.Reason]++
	}
	t.Logf("exit reasons: %v", seen)
	assert.NotZero(t, seen[ExitCompleted])
	assert.NotZero(t, seen[ExitStackFault])
	assert.NotZero(t, seen[ExitOutOfBounds])
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentRuns(t *testing.T) {
	f := newFactory(t)
	src := "PUSH 0\nSTORE 0\nINCLOCAL 0 1\nJMPIFLT 0 1000 -1\nLOAD 0\nHALT\n"
	buf := assembleProgram(t, f, src)

	var wg sync.WaitGroup
	results := make([]Result, 12)
	for i := range results {
		name := f.Strategies()[i%3]
		e, err := f.Create(name)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Run(buf, 0)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.Equal(t, ExitCompleted, res.Reason, "run %d", i)
		assert.Equal(t, []Cell{1000}, res.Context.Stack, "run %d", i)
	}
}

// ---------------------------------------------------------------------------
// Benchmarks
// ---------------------------------------------------------------------------

func BenchmarkDispatch(b *testing.B) {
	f := newFactory(b)
	buf := assembleProgram(b, f, strings.Join([]string{
		"PUSH 0", "STORE 0",
		"PUSH 0", "STORE 1",
		"LOAD 1", "LOAD 0", "ADD", "STORE 1",
		"INCLOCAL 0 1",
		"JMPIFLT 0 10000 -5",
		"LOAD 1", "HALT",
	}, "\n"))
	for _, name := range f.Strategies() {
		e, _ := f.Create(name)
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if res := e.Run(buf, 0); res.Reason != ExitCompleted {
					b.Fatal(res.Err())
				}
			}
		})
	}
}
