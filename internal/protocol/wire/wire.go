// Package wire holds the fixed-width integer primitives of the Spread wire
// format.
//
// All integers are written big-endian. Inbound frames may arrive in the
// daemon's byte order; the leading service-type word carries a marker that
// tells the reader whether the rest of the frame needs flipping.
package wire

import "encoding/binary"

// EndianMarker is the sentinel pattern a daemon sets in the service-type word
// when its byte order differs from the reader's assumption.
const EndianMarker uint32 = 0x80000080

// U32Len is the size of one integer field on the wire.
const U32Len = 4

func EncodeU32(v uint32) []byte {
	buf := make([]byte, U32Len)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// AppendU32 appends v big-endian to dst.
func AppendU32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

func DecodeU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[:U32Len])
}

// NeedsByteSwap reports whether a frame whose leading word decodes (big-endian)
// to word must have its integer fields flipped.
func NeedsByteSwap(word uint32) bool {
	return word&EndianMarker != 0
}

// FlipU32 reverses the byte order of v.
func FlipU32(v uint32) uint32 {
	return (v>>24)&0x000000ff |
		(v>>8)&0x0000ff00 |
		(v<<8)&0x00ff0000 |
		(v<<24)&0xff000000
}

// ClearEndian strips the marker bits from a service-type word.
func ClearEndian(word uint32) uint32 {
	return word &^ EndianMarker
}

// Order is the byte-order decision for one frame. It is derived once from the
// frame's leading word and applied to every later integer of that frame.
type Order struct {
	Swap bool
}

// OrderOf derives the decode context from a frame's raw leading word.
func OrderOf(leading []byte) Order {
	return Order{Swap: NeedsByteSwap(DecodeU32(leading))}
}

// U32 decodes one integer field under this frame's byte order.
func (o Order) U32(b []byte) uint32 {
	v := DecodeU32(b)
	if o.Swap {
		return FlipU32(v)
	}
	return v
}
