package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/vmkernel/image"
	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/chazu/vmkernel/store"
	"github.com/chazu/vmkernel/vm"
)

// ---------------------------------------------------------------------------
// Assemble
// ---------------------------------------------------------------------------

func TestAssemble(t *testing.T) {
	svc := newTestKernelService()

	resp, err := svc.Assemble(bg(), connectReq(&AssembleRequest{
		Name:   "add",
		Source: "PUSH 5\nPUSH 3\nADD\nHALT\n",
	}))
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if !strings.HasPrefix(resp.Msg.Handle, "p-") {
		t.Errorf("Handle = %q, want p-N", resp.Msg.Handle)
	}
	if resp.Msg.Size != 24 || resp.Msg.Count != 4 {
		t.Errorf("Size/Count = %d/%d, want 24/4", resp.Msg.Size, resp.Msg.Count)
	}
	if resp.Msg.Fingerprint != testFactory.Table().Fingerprint() {
		t.Error("Fingerprint should match the server table")
	}
}

func TestAssembleErrors(t *testing.T) {
	svc := newTestKernelService()

	tests := []struct {
		name string
		req  *AssembleRequest
		want connect.Code
	}{
		{"empty", &AssembleRequest{Source: "  \n"}, connect.CodeInvalidArgument},
		{"unknown mnemonic", &AssembleRequest{Source: "PUSH 1\nFROB\n"}, connect.CodeInvalidArgument},
		{"bad operand", &AssembleRequest{Source: "PUSHB 300\n"}, connect.CodeInvalidArgument},
		{"jump out of range", &AssembleRequest{Source: "JMP 5\n"}, connect.CodeInvalidArgument},
		{"save without store", &AssembleRequest{Name: "x", Source: "HALT\n", Save: true}, connect.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Assemble(bg(), connectReq(tt.req))
			if connect.CodeOf(err) != tt.want {
				t.Errorf("Assemble error = %v, want code %v", err, tt.want)
			}
		})
	}

	_, err := svc.Assemble(bg(), connectReq(&AssembleRequest{Source: "PUSH 1\nFROB\n"}))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("assembly errors should carry the line number, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRunByHandle(t *testing.T) {
	svc := newTestKernelService()
	h := assembleHandle(t, svc, "PUSH 0\nJMPIFZERO 2\nPUSH 99\nHALT\n")

	for _, strategy := range vm.Strategies() {
		resp, err := svc.Run(bg(), connectReq(&RunRequest{
			Program:  ProgramRef{Handle: h},
			Strategy: strategy,
		}))
		if err != nil {
			t.Fatalf("Run(%s) returned error: %v", strategy, err)
		}
		if resp.Msg.Reason != "completed" || resp.Msg.Code != uint8(vm.ExitCompleted) {
			t.Errorf("Run(%s) reason = %q", strategy, resp.Msg.Reason)
		}
		if len(resp.Msg.Context.Stack) != 0 {
			t.Errorf("Run(%s) stack = %v, want empty", strategy, resp.Msg.Context.Stack)
		}
		if resp.Msg.Offset != 24 || resp.Msg.Strategy != strategy {
			t.Errorf("Run(%s) offset %d strategy %q", strategy, resp.Msg.Offset, resp.Msg.Strategy)
		}
	}
}

func TestRunSeededLocals(t *testing.T) {
	svc := newTestKernelService()
	resp, err := svc.Assemble(bg(), connectReq(&AssembleRequest{
		Source: "LOAD 0\nLOAD 1\nSUB\nHALT\n",
		Locals: []vm.Cell{10, 4},
	}))
	if err != nil {
		t.Fatal(err)
	}
	ref := ProgramRef{Handle: resp.Msg.Handle}

	run, err := svc.Run(bg(), connectReq(&RunRequest{Program: ref}))
	if err != nil {
		t.Fatal(err)
	}
	if got := run.Msg.Context.Stack; len(got) != 1 || got[0] != 6 {
		t.Errorf("stack = %v, want [6]", got)
	}

	run, err = svc.Run(bg(), connectReq(&RunRequest{Program: ref, Locals: []vm.Cell{1, 2}}))
	if err != nil {
		t.Fatal(err)
	}
	if got := run.Msg.Context.Stack; len(got) != 1 || got[0] != -1 {
		t.Errorf("stack with override = %v, want [-1]", got)
	}
}

func TestRunRawCodeFault(t *testing.T) {
	svc := newTestKernelService()
	resp, err := svc.Run(bg(), connectReq(&RunRequest{
		Program: ProgramRef{Code: []byte{99, 0, 0, 0}},
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Msg.Reason != "invalid opcode" || resp.Msg.Offset != 0 {
		t.Errorf("Run = %q at %d, want invalid opcode at 0", resp.Msg.Reason, resp.Msg.Offset)
	}
}

func TestRunErrors(t *testing.T) {
	svc := newTestKernelService()
	h := assembleHandle(t, svc, "HALT\n")

	tests := []struct {
		name string
		req  *RunRequest
		want connect.Code
	}{
		{"no program", &RunRequest{}, connect.CodeInvalidArgument},
		{"two programs", &RunRequest{Program: ProgramRef{Handle: h, Name: "x"}}, connect.CodeInvalidArgument},
		{"unknown handle", &RunRequest{Program: ProgramRef{Handle: "p-999999"}}, connect.CodeNotFound},
		{"unknown strategy", &RunRequest{Program: ProgramRef{Handle: h}, Strategy: "jit"}, connect.CodeInvalidArgument},
		{"no store", &RunRequest{Program: ProgramRef{Name: "x"}}, connect.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(bg(), connectReq(tt.req))
			if connect.CodeOf(err) != tt.want {
				t.Errorf("Run error = %v, want code %v", err, tt.want)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	svc := newTestKernelService()
	h := assembleHandle(t, svc, "HALT\n")

	ctx, cancel := context.WithCancel(bg())
	cancel()
	_, err := svc.Run(ctx, connectReq(&RunRequest{Program: ProgramRef{Handle: h}}))
	if connect.CodeOf(err) != connect.CodeCanceled {
		t.Errorf("Run error = %v, want canceled", err)
	}
}

func TestRunDeadlineExceeded(t *testing.T) {
	svc := newTestKernelService()
	h := assembleHandle(t, svc, "HALT\n")

	ctx, cancel := context.WithDeadline(bg(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := svc.Run(ctx, connectReq(&RunRequest{Program: ProgramRef{Handle: h}}))
	if connect.CodeOf(err) != connect.CodeDeadlineExceeded {
		t.Errorf("Run error = %v, want deadline exceeded", err)
	}
}

// ---------------------------------------------------------------------------
// Stored programs
// ---------------------------------------------------------------------------

func TestSaveAndRunByName(t *testing.T) {
	programs, err := store.OpenLevel("")
	if err != nil {
		t.Fatal(err)
	}
	defer programs.Close()
	svc := NewKernelService(testPool, NewHandleStore(), programs, vm.StrategyDirect)

	_, err = svc.Assemble(bg(), connectReq(&AssembleRequest{
		Name:   "answer",
		Source: "PUSH 6\nPUSH 7\nMUL\nHALT\n",
		Save:   true,
	}))
	if err != nil {
		t.Fatalf("Assemble(save) returned error: %v", err)
	}

	resp, err := svc.Run(bg(), connectReq(&RunRequest{Program: ProgramRef{Name: "answer"}}))
	if err != nil {
		t.Fatalf("Run(name) returned error: %v", err)
	}
	if got := resp.Msg.Context.Stack; len(got) != 1 || got[0] != 42 {
		t.Errorf("stack = %v, want [42]", got)
	}
	if resp.Msg.Strategy != vm.StrategyDirect {
		t.Errorf("default strategy = %q", resp.Msg.Strategy)
	}

	_, err = svc.Run(bg(), connectReq(&RunRequest{Program: ProgramRef{Name: "missing"}}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Run(missing) = %v, want not found", err)
	}

	_, err = svc.Assemble(bg(), connectReq(&AssembleRequest{Source: "HALT\n", Save: true}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("saving without a name = %v, want invalid argument", err)
	}
}

// ---------------------------------------------------------------------------
// Disassemble and listings
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	svc := newTestKernelService()
	h := assembleHandle(t, svc, "PUSH 0\nJMPIFZERO 2\nPUSH 99\nHALT\n")

	resp, err := svc.Disassemble(bg(), connectReq(&DisassembleRequest{Program: ProgramRef{Handle: h}}))
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	if len(resp.Msg.Instructions) != 4 {
		t.Fatalf("got %d instructions, want 4", len(resp.Msg.Instructions))
	}
	jmp := resp.Msg.Instructions[1]
	if jmp.Name != "JMPIFZERO" || jmp.Offset != 8 || len(jmp.Operands) != 1 || jmp.Operands[0] != 16 {
		t.Errorf("instruction 1 = %+v", jmp)
	}
	if !strings.Contains(resp.Msg.Listing, "; === test ===") {
		t.Errorf("listing header missing:\n%s", resp.Msg.Listing)
	}

	_, err = svc.Disassemble(bg(), connectReq(&DisassembleRequest{Program: ProgramRef{Code: []byte{1, 0}}}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Disassemble(truncated) = %v, want invalid argument", err)
	}
}

func TestListInstructions(t *testing.T) {
	svc := newTestKernelService()
	resp, err := svc.ListInstructions(bg(), connectReq(&ListInstructionsRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.OpcodeWidth != 4 || len(resp.Msg.Instructions) != 28 {
		t.Errorf("width %d, %d instructions", resp.Msg.OpcodeWidth, len(resp.Msg.Instructions))
	}
	last := resp.Msg.Instructions[26]
	if last.Name != "JMPIFLT" || last.Size != 16 || strings.Join(last.Fields, " ") != "local:4 int:4 jump:4" {
		t.Errorf("JMPIFLT = %+v", last)
	}
}

func TestListStrategies(t *testing.T) {
	svc := newTestKernelService()
	resp, err := svc.ListStrategies(bg(), connectReq(&ListStrategiesRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Msg.Strategies) != 3 || resp.Msg.Default != vm.StrategySwitch {
		t.Errorf("ListStrategies = %+v", resp.Msg)
	}
}

func TestRunStoredUntranslated(t *testing.T) {
	programs, err := store.OpenLevel("")
	if err != nil {
		t.Fatal(err)
	}
	defer programs.Close()

	b := bytecode.NewBuilder(testFactory.Table())
	if err := b.DecodeFrom(strings.NewReader("PUSH 0\nJMPIFZERO 2\nPUSH 99\nHALT\n")); err != nil {
		t.Fatal(err)
	}
	if err := programs.Put(bg(), image.FromBuilder("raw", b, nil)); err != nil {
		t.Fatal(err)
	}
	svc := NewKernelService(testPool, NewHandleStore(), programs, vm.StrategySwitch)

	resp, err := svc.Run(bg(), connectReq(&RunRequest{Program: ProgramRef{Name: "raw"}}))
	if err != nil {
		t.Fatalf("Run(untranslated) returned error: %v", err)
	}
	if resp.Msg.Reason != "completed" || len(resp.Msg.Context.Stack) != 0 || resp.Msg.Offset != 24 {
		t.Errorf("Run = %q at %d with stack %v, want completed at 24 with empty stack",
			resp.Msg.Reason, resp.Msg.Offset, resp.Msg.Context.Stack)
	}
}
