package server

import (
	"fmt"

	"github.com/chazu/vmkernel/image"
	"github.com/fxamacker/cbor/v2"
)

// cborCodec carries service messages as canonical CBOR. Connect derives
// the content types from the name: application/cbor for the Connect
// protocol and application/grpc+cbor for gRPC.
type cborCodec struct{}

const codecName = "cbor"

func (cborCodec) Name() string { return codecName }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	data, err := image.EncMode().Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("server: marshal %T: %w", msg, err)
	}
	return data, nil
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	if err := cbor.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("server: unmarshal %T: %w", msg, err)
	}
	return nil
}
