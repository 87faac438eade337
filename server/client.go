package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote KernelService using the CBOR codec.
type Client struct {
	assemble         *connect.Client[AssembleRequest, AssembleResponse]
	disassemble      *connect.Client[DisassembleRequest, DisassembleResponse]
	run              *connect.Client[RunRequest, RunResponse]
	listInstructions *connect.Client[ListInstructionsRequest, ListInstructionsResponse]
	listStrategies   *connect.Client[ListStrategiesRequest, ListStrategiesResponse]
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:4567".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &Client{
		assemble:         connect.NewClient[AssembleRequest, AssembleResponse](httpClient, baseURL+AssembleProcedure, opts...),
		disassemble:      connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, opts...),
		run:              connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...),
		listInstructions: connect.NewClient[ListInstructionsRequest, ListInstructionsResponse](httpClient, baseURL+ListInstructionsProcedure, opts...),
		listStrategies:   connect.NewClient[ListStrategiesRequest, ListStrategiesResponse](httpClient, baseURL+ListStrategiesProcedure, opts...),
	}
}

// Assemble calls KernelService.Assemble.
func (c *Client) Assemble(ctx context.Context, req *AssembleRequest) (*AssembleResponse, error) {
	resp, err := c.assemble.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Disassemble calls KernelService.Disassemble.
func (c *Client) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	resp, err := c.disassemble.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Run calls KernelService.Run.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ListInstructions calls KernelService.ListInstructions.
func (c *Client) ListInstructions(ctx context.Context) (*ListInstructionsResponse, error) {
	resp, err := c.listInstructions.CallUnary(ctx, connect.NewRequest(&ListInstructionsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ListStrategies calls KernelService.ListStrategies.
func (c *Client) ListStrategies(ctx context.Context) (*ListStrategiesResponse, error) {
	resp, err := c.listStrategies.CallUnary(ctx, connect.NewRequest(&ListStrategiesRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
