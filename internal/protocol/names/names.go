// Package names encodes the fixed-width name slots of the Spread wire format.
package names

import (
	"bytes"
	"fmt"

	"github.com/danmuck/spreadctl/internal/protocol"
	"golang.org/x/text/encoding/charmap"
)

// SlotLen is the wire width of a sender or group name.
const SlotLen = 32

// Codec converts between Go strings and the 8-bit text the daemon expects in
// name fields.
type Codec interface {
	Encode(s string) ([]byte, error)
	Decode(b []byte) (string, error)
}

type latin1 struct{}

// Latin1 is the ISO-8859-1 codec. Runes outside the charset fail to encode.
var Latin1 Codec = latin1{}

func (latin1) Encode(s string) ([]byte, error) {
	out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, protocol.NewError(protocol.KindEncodingFailed, fmt.Sprintf("encode %q", s), err)
	}
	return out, nil
}

func (latin1) Decode(b []byte) (string, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", protocol.NewError(protocol.KindMalformedServerResponse, "decode name", err)
	}
	return string(out), nil
}

// Slot is one zero-padded 32-byte name field.
type Slot [SlotLen]byte

// NewSlot encodes name into a slot. Names whose encoding exceeds SlotLen are
// rejected with EncodingFailed.
func NewSlot(codec Codec, name string) (Slot, error) {
	raw, err := encode(codec, name)
	if err != nil {
		return Slot{}, err
	}
	if len(raw) > SlotLen {
		return Slot{}, protocol.NewError(protocol.KindEncodingFailed,
			fmt.Sprintf("name %q is %d bytes, slot holds %d", name, len(raw), SlotLen), nil)
	}
	var s Slot
	copy(s[:], raw)
	return s, nil
}

// TruncateSlot encodes name into a slot, cutting the encoding at SlotLen.
func TruncateSlot(codec Codec, name string) (Slot, error) {
	raw, err := encode(codec, name)
	if err != nil {
		return Slot{}, err
	}
	var s Slot
	copy(s[:], raw)
	return s, nil
}

// Decode returns the slot text with trailing zero padding trimmed.
func (s Slot) Decode(codec Codec) (string, error) {
	return DecodeSlot(codec, s[:])
}

// DecodeSlot decodes one SlotLen-wide field taken straight off the wire.
func DecodeSlot(codec Codec, b []byte) (string, error) {
	if len(b) != SlotLen {
		return "", protocol.NewError(protocol.KindMalformedServerResponse,
			fmt.Sprintf("name slot is %d bytes", len(b)), nil)
	}
	return codec.Decode(bytes.TrimRight(b, "\x00"))
}

func encode(codec Codec, name string) ([]byte, error) {
	raw, err := codec.Encode(name)
	if err != nil {
		if protocol.KindOf(err) == protocol.KindEncodingFailed {
			return nil, err
		}
		return nil, protocol.NewError(protocol.KindEncodingFailed, fmt.Sprintf("encode %q", name), err)
	}
	return raw, nil
}
