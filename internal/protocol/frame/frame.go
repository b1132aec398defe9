package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/spreadctl/internal/protocol"
	"github.com/danmuck/spreadctl/internal/protocol/names"
	"github.com/danmuck/spreadctl/internal/protocol/wire"
)

// HeaderLen is service_type(4) | sender(32) | group_count(4) | reserved(4) | data_len(4).
const HeaderLen = 4 + names.SlotLen + 4 + 4 + 4

const (
	offService  = 0
	offSender   = 4
	offGroups   = offSender + names.SlotLen
	offReserved = offGroups + 4
	offDataLen  = offReserved + 4
)

// Header is the decoded fixed part of an inbound frame.
type Header struct {
	ServiceType ServiceType
	Sender      string
	GroupCount  uint32
	Reserved    uint32
	DataLen     uint32
	Order       wire.Order
}

// Message is one complete inbound frame.
type Message struct {
	ServiceType ServiceType
	Sender      string
	Groups      []string
	Data        []byte
}

// Limits bounds what a single inbound frame may allocate.
type Limits struct {
	MaxGroups    uint32
	MaxDataBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxGroups:    1024,
		MaxDataBytes: 16 * 1024 * 1024,
	}
}

// Encode builds one outbound frame. The sender is truncated to its slot;
// group names that do not fit fail with EncodingFailed.
func Encode(codec names.Codec, svc ServiceType, sender string, groups []string, payload []byte) ([]byte, error) {
	senderSlot, err := names.TruncateSlot(codec, sender)
	if err != nil {
		return nil, err
	}
	slots := make([]names.Slot, 0, len(groups))
	for _, g := range groups {
		s, err := names.NewSlot(codec, g)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}

	buf := make([]byte, 0, HeaderLen+len(slots)*names.SlotLen+len(payload))
	buf = wire.AppendU32(buf, uint32(svc))
	buf = append(buf, senderSlot[:]...)
	buf = wire.AppendU32(buf, uint32(len(slots)))
	buf = wire.AppendU32(buf, 0)
	buf = wire.AppendU32(buf, uint32(len(payload)))
	for _, s := range slots {
		buf = append(buf, s[:]...)
	}
	buf = append(buf, payload...)
	return buf, nil
}

// Write encodes one frame and writes it with a single call.
func Write(w io.Writer, codec names.Codec, svc ServiceType, sender string, groups []string, payload []byte) (int, error) {
	buf, err := Encode(codec, svc, sender, groups, payload)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(buf); err != nil {
		return 0, protocol.NewError(protocol.KindTransportError, "write frame", err)
	}
	return len(buf), nil
}

// DecodeHeader decodes the fixed header, resolving the frame's byte order from
// its leading word.
func DecodeHeader(codec names.Codec, b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, protocol.NewError(protocol.KindMalformedServerResponse,
			fmt.Sprintf("frame header is %d bytes", len(b)), nil)
	}
	order := wire.OrderOf(b[offService:offSender])
	sender, err := names.DecodeSlot(codec, b[offSender:offGroups])
	if err != nil {
		return Header{}, err
	}
	return Header{
		ServiceType: ServiceType(wire.ClearEndian(order.U32(b[offService:offSender]))),
		Sender:      sender,
		GroupCount:  order.U32(b[offGroups:offReserved]),
		Reserved:    order.U32(b[offReserved:offDataLen]),
		DataLen:     order.U32(b[offDataLen:HeaderLen]),
		Order:       order,
	}, nil
}

// Read blocks until one full frame has been read from r. A failure in any
// phase discards everything read so far for this call.
func Read(r io.Reader, codec names.Codec, limits Limits) (Message, error) {
	var fixed [HeaderLen]byte
	if err := readFull(r, fixed[:], "frame header"); err != nil {
		return Message{}, err
	}
	h, err := DecodeHeader(codec, fixed[:])
	if err != nil {
		return Message{}, err
	}
	if h.GroupCount > limits.MaxGroups {
		return Message{}, protocol.NewError(protocol.KindMalformedServerResponse,
			fmt.Sprintf("group count %d exceeds limit %d", h.GroupCount, limits.MaxGroups), nil)
	}
	if h.DataLen > limits.MaxDataBytes {
		return Message{}, protocol.NewError(protocol.KindMalformedServerResponse,
			fmt.Sprintf("data length %d exceeds limit %d", h.DataLen, limits.MaxDataBytes), nil)
	}

	groups := make([]string, 0, h.GroupCount)
	if h.GroupCount > 0 {
		raw := make([]byte, int(h.GroupCount)*names.SlotLen)
		if err := readFull(r, raw, "group list"); err != nil {
			return Message{}, err
		}
		for i := 0; i < len(raw); i += names.SlotLen {
			g, err := names.DecodeSlot(codec, raw[i:i+names.SlotLen])
			if err != nil {
				return Message{}, err
			}
			groups = append(groups, g)
		}
	}

	data := make([]byte, h.DataLen)
	if h.DataLen > 0 {
		if err := readFull(r, data, "payload"); err != nil {
			return Message{}, err
		}
	}

	return Message{
		ServiceType: h.ServiceType,
		Sender:      h.Sender,
		Groups:      groups,
		Data:        data,
	}, nil
}

func readFull(r io.Reader, b []byte, what string) error {
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return protocol.NewError(protocol.KindTransportError, "short "+what, err)
		}
		return protocol.NewError(protocol.KindTransportError, "read "+what, err)
	}
	return nil
}
