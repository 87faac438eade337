package bytecode

import "encoding/binary"

// ByteOrder is the byte order of every opcode and field in a buffer.
var ByteOrder = binary.LittleEndian

// ValidWidth reports whether width is a supported field or opcode width.
func ValidWidth(width int) bool {
	switch width {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// FitsWidth reports whether v is representable as a signed integer of
// the given width.
func FitsWidth(v int64, width int) bool {
	switch width {
	case 1:
		return v >= -1<<7 && v < 1<<7
	case 2:
		return v >= -1<<15 && v < 1<<15
	case 4:
		return v >= -1<<31 && v < 1<<31
	case 8:
		return true
	}
	return false
}

// ReadInt decodes the signed integer of the given width at buf[off:].
// The caller guarantees off+width <= len(buf).
func ReadInt(buf []byte, off, width int) int64 {
	switch width {
	case 1:
		return int64(int8(buf[off]))
	case 2:
		return int64(int16(ByteOrder.Uint16(buf[off:])))
	case 4:
		return int64(int32(ByteOrder.Uint32(buf[off:])))
	default:
		return int64(ByteOrder.Uint64(buf[off:]))
	}
}

// PutInt encodes v as a signed integer of the given width into dst.
func PutInt(dst []byte, width int, v int64) {
	switch width {
	case 1:
		dst[0] = byte(v)
	case 2:
		ByteOrder.PutUint16(dst, uint16(v))
	case 4:
		ByteOrder.PutUint32(dst, uint32(v))
	default:
		ByteOrder.PutUint64(dst, uint64(v))
	}
}

func appendInt(buf []byte, width int, v int64) []byte {
	switch width {
	case 1:
		return append(buf, byte(v))
	case 2:
		return ByteOrder.AppendUint16(buf, uint16(v))
	case 4:
		return ByteOrder.AppendUint32(buf, uint32(v))
	default:
		return ByteOrder.AppendUint64(buf, uint64(v))
	}
}
