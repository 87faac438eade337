package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/vmkernel/image"
	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/chazu/vmkernel/store"
	"github.com/chazu/vmkernel/vm"
)

// KernelServiceName is the fully-qualified name of the service.
const KernelServiceName = "vmkernel.v1.KernelService"

// Procedure paths served by NewKernelServiceHandler.
const (
	AssembleProcedure         = "/" + KernelServiceName + "/Assemble"
	DisassembleProcedure      = "/" + KernelServiceName + "/Disassemble"
	RunProcedure              = "/" + KernelServiceName + "/Run"
	ListInstructionsProcedure = "/" + KernelServiceName + "/ListInstructions"
	ListStrategiesProcedure   = "/" + KernelServiceName + "/ListStrategies"
)

// KernelService implements the KernelService Connect handlers.
type KernelService struct {
	pool     *Pool
	handles  *HandleStore
	programs store.Store // Optional
	strategy string      // Default strategy
}

// NewKernelService creates a KernelService. programs may be nil, in
// which case requests that name stored programs fail with Unavailable.
func NewKernelService(pool *Pool, handles *HandleStore, programs store.Store, strategy string) *KernelService {
	return &KernelService{
		pool:     pool,
		handles:  handles,
		programs: programs,
		strategy: strategy,
	}
}

func (s *KernelService) table() *bytecode.Table {
	return s.pool.Factory().Table()
}

// Assemble assembles and translates source text and registers the
// result under a new handle.
func (s *KernelService) Assemble(
	ctx context.Context,
	req *connect.Request[AssembleRequest],
) (*connect.Response[AssembleResponse], error) {
	source := req.Msg.Source
	if strings.TrimSpace(source) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	b, err := s.pool.Factory().AssembleString(source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	img := image.FromBuilder(req.Msg.Name, b, req.Msg.Locals)
	img.Source = source

	if req.Msg.Save {
		if s.programs == nil {
			return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("no program store configured"))
		}
		if img.Name == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required to save a program"))
		}
		if err := s.programs.Put(ctx, img); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}

	return connect.NewResponse(&AssembleResponse{
		Handle:      s.handles.Create(img),
		Size:        b.Len(),
		Count:       b.Count(),
		Fingerprint: img.Fingerprint,
		Code:        img.Code,
	}), nil
}

// Disassemble returns the listing of a program.
func (s *KernelService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	img, err := s.resolve(ctx, req.Msg.Program)
	if err != nil {
		return nil, err
	}

	ins, err := bytecode.Decode(img.Code, s.table())
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	infos := make([]InstructionInfo, len(ins))
	for i, in := range ins {
		infos[i] = InstructionInfo{
			Index:    in.Index,
			Offset:   in.Offset,
			Name:     in.Desc.Name,
			Operands: in.Operands,
		}
	}

	name := img.Name
	if name == "" {
		name = "program"
	}
	return connect.NewResponse(&DisassembleResponse{
		Listing:      bytecode.DisassembleWithName(img.Code, s.table(), name),
		Instructions: infos,
	}), nil
}

// Run executes a program on the worker pool.
func (s *KernelService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	img, err := s.resolve(ctx, req.Msg.Program)
	if err != nil {
		return nil, err
	}

	strategy := req.Msg.Strategy
	if strategy == "" {
		strategy = s.strategy
	}
	locals := img.Locals
	if req.Msg.Locals != nil {
		locals = req.Msg.Locals
	}

	res, err := s.pool.Run(ctx, strategy, img.Code, req.Msg.Entry, locals)
	if err != nil {
		var unknown *vm.UnknownStrategyError
		switch {
		case errors.As(err, &unknown):
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		case errors.Is(err, context.Canceled):
			return nil, connect.NewError(connect.CodeCanceled, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(&RunResponse{
		Reason:   res.Reason.String(),
		Code:     uint8(res.Reason),
		Offset:   res.Offset,
		Context:  res.Context.Snapshot(),
		Strategy: strategy,
	}), nil
}

// ListInstructions describes the opcode table.
func (s *KernelService) ListInstructions(
	ctx context.Context,
	req *connect.Request[ListInstructionsRequest],
) (*connect.Response[ListInstructionsResponse], error) {
	t := s.table()
	resp := &ListInstructionsResponse{
		OpcodeWidth: t.OpcodeWidth(),
		Fingerprint: t.Fingerprint(),
	}
	for _, d := range t.Descriptors() {
		info := DescriptorInfo{Code: d.Code, Name: d.Name, Size: d.Size}
		for _, f := range d.Fields {
			info.Fields = append(info.Fields, f.String())
		}
		resp.Instructions = append(resp.Instructions, info)
	}
	return connect.NewResponse(resp), nil
}

// ListStrategies lists the dispatch strategies.
func (s *KernelService) ListStrategies(
	ctx context.Context,
	req *connect.Request[ListStrategiesRequest],
) (*connect.Response[ListStrategiesResponse], error) {
	return connect.NewResponse(&ListStrategiesResponse{
		Strategies: s.pool.Factory().Strategies(),
		Default:    s.strategy,
	}), nil
}

// resolve finds the program a request refers to.
func (s *KernelService) resolve(ctx context.Context, ref ProgramRef) (*image.Image, error) {
	set := 0
	for _, ok := range []bool{ref.Handle != "", ref.Name != "", ref.Code != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("exactly one of handle, name or code is required"))
	}

	switch {
	case ref.Handle != "":
		img, ok := s.handles.Lookup(ref.Handle)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", ref.Handle))
		}
		return img, nil

	case ref.Name != "":
		if s.programs == nil {
			return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("no program store configured"))
		}
		img, err := s.programs.Get(ctx, ref.Name)
		if errors.Is(err, store.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		if err := img.Check(s.table()); err != nil {
			return nil, connect.NewError(connect.CodeFailedPrecondition, err)
		}
		if img.Translated {
			return img, nil
		}
		// Images saved before jump translation still hold index-space jumps.
		b, err := img.Builder(s.table())
		if err == nil {
			err = b.TranslateJumpIndices()
		}
		if err != nil {
			return nil, connect.NewError(connect.CodeFailedPrecondition, err)
		}
		out := image.FromBuilder(img.Name, b, img.Locals)
		out.Source = img.Source
		return out, nil
	}

	return &image.Image{Code: ref.Code}, nil
}

// NewKernelServiceHandler builds an HTTP handler serving every
// KernelService procedure. It returns the path prefix to mount it on.
func NewKernelServiceHandler(svc *KernelService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)

	assemble := connect.NewUnaryHandler(AssembleProcedure, svc.Assemble, opts...)
	disassemble := connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, opts...)
	run := connect.NewUnaryHandler(RunProcedure, svc.Run, opts...)
	listInstructions := connect.NewUnaryHandler(ListInstructionsProcedure, svc.ListInstructions, opts...)
	listStrategies := connect.NewUnaryHandler(ListStrategiesProcedure, svc.ListStrategies, opts...)

	return "/" + KernelServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AssembleProcedure:
			assemble.ServeHTTP(w, r)
		case DisassembleProcedure:
			disassemble.ServeHTTP(w, r)
		case RunProcedure:
			run.ServeHTTP(w, r)
		case ListInstructionsProcedure:
			listInstructions.ServeHTTP(w, r)
		case ListStrategiesProcedure:
			listStrategies.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
