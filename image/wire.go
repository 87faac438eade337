// Package image serializes assembled programs as CBOR program images.
//
// An image carries the instruction buffer together with the opcode-table
// fingerprint it was assembled against, so a loader can refuse to run
// code built for a different instruction set.
package image

import (
	"errors"
	"fmt"

	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/fxamacker/cbor/v2"
)

// Version is the current image format version.
const Version = 1

// ErrFingerprintMismatch is returned by Check when an image was built
// against a different opcode table.
var ErrFingerprintMismatch = errors.New("image: opcode table fingerprint mismatch")

// Image is a serialized program.
type Image struct {
	Version     int     `cbor:"1,keyasint"`
	Name        string  `cbor:"2,keyasint"`
	OpcodeWidth int     `cbor:"3,keyasint"`
	Fingerprint string  `cbor:"4,keyasint"`
	Code        []byte  `cbor:"5,keyasint"`
	Locals      []int64 `cbor:"6,keyasint,omitempty"`
	Translated  bool    `cbor:"7,keyasint"`
	Source      string  `cbor:"8,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncMode returns the canonical CBOR encoding mode used for images.
// Other packages that put image-adjacent values on the wire share it so
// that equal values always encode to equal bytes.
func EncMode() cbor.EncMode {
	return cborEncMode
}

// FromBuilder captures the buffer held by b. locals seeds the leading
// local slots when the image is run.
func FromBuilder(name string, b *bytecode.Builder, locals []int64) *Image {
	t := b.Table()
	return &Image{
		Version:     Version,
		Name:        name,
		OpcodeWidth: t.OpcodeWidth(),
		Fingerprint: t.Fingerprint(),
		Code:        append([]byte(nil), b.Bytes()...),
		Locals:      append([]int64(nil), locals...),
		Translated:  b.Translated(),
	}
}

// Marshal serializes an image to canonical CBOR bytes.
func Marshal(img *Image) ([]byte, error) {
	data, err := cborEncMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("image: marshal %q: %w", img.Name, err)
	}
	return data, nil
}

// Unmarshal deserializes an image from CBOR bytes.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d", img.Version)
	}
	return &img, nil
}

// Check verifies that the image can run against t: same opcode width,
// same table fingerprint, and a buffer that decodes cleanly.
func (img *Image) Check(t *bytecode.Table) error {
	if img.OpcodeWidth != t.OpcodeWidth() || img.Fingerprint != t.Fingerprint() {
		return fmt.Errorf("%w: image %q has width %d fingerprint %.12s, table has width %d fingerprint %.12s",
			ErrFingerprintMismatch, img.Name, img.OpcodeWidth, img.Fingerprint, t.OpcodeWidth(), t.Fingerprint())
	}
	if err := bytecode.Verify(img.Code, t); err != nil {
		return fmt.Errorf("image: %q: %w", img.Name, err)
	}
	return nil
}

// Builder reconstructs a builder holding the image's code, so it can be
// disassembled or extended. A translated image yields a finalized builder.
func (img *Image) Builder(t *bytecode.Table) (*bytecode.Builder, error) {
	if err := img.Check(t); err != nil {
		return nil, err
	}
	return bytecode.Load(t, img.Code, img.Translated)
}
