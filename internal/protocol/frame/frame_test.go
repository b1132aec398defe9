package frame

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/spreadctl/internal/protocol"
	"github.com/danmuck/spreadctl/internal/protocol/names"
	"github.com/danmuck/spreadctl/internal/protocol/wire"
	"github.com/danmuck/spreadctl/internal/testutil/testlog"
)

func padded(s string) []byte {
	out := make([]byte, names.SlotLen)
	copy(out, s)
	return out
}

func TestEncodeJoinFrameExactBytes(t *testing.T) {
	testlog.Start(t)
	got, err := Encode(names.Latin1, Join, "de", []string{"ad"}, []byte("beef"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var want []byte
	want = append(want, 0, 1, 0, 0)
	want = append(want, padded("de")...)
	want = append(want, 0, 0, 0, 1)
	want = append(want, 0, 0, 0, 0)
	want = append(want, 0, 0, 0, 4)
	want = append(want, padded("ad")...)
	want = append(want, "beef"...)
	if !bytes.Equal(got, want) {
		t.Fatalf("frame mismatch:\n got=%v\nwant=%v", got, want)
	}
}

func TestEncodeMulticastFrameExactBytes(t *testing.T) {
	testlog.Start(t)
	got, err := Encode(names.Latin1, ReliableMulticast, "de", []string{"foo"}, []byte("beef"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(got) != HeaderLen+names.SlotLen+4 {
		t.Fatalf("unexpected frame length %d", len(got))
	}
	if !bytes.Equal(got[0:4], []byte{0, 0, 0, 2}) {
		t.Fatalf("service type bytes %v", got[0:4])
	}
	if !bytes.Equal(got[4:36], padded("de")) {
		t.Fatalf("sender slot %v", got[4:36])
	}
	if !bytes.Equal(got[36:48], []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 4}) {
		t.Fatalf("counts %v", got[36:48])
	}
	if !bytes.Equal(got[48:80], padded("foo")) {
		t.Fatalf("group slot %v", got[48:80])
	}
	if string(got[80:]) != "beef" {
		t.Fatalf("payload %q", got[80:])
	}
}

func TestEncodeRejectsOverLengthGroup(t *testing.T) {
	testlog.Start(t)
	_, err := Encode(names.Latin1, Join, "de", []string{strings.Repeat("x", names.SlotLen+1)}, nil)
	if !errors.Is(err, protocol.ErrEncodingFailed) {
		t.Fatalf("expected ErrEncodingFailed, got %v", err)
	}
}

func TestEncodeTruncatesSender(t *testing.T) {
	testlog.Start(t)
	sender := strings.Repeat("s", names.SlotLen+5)
	got, err := Encode(names.Latin1, Kill, sender, []string{"g"}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(got[4:36], []byte(strings.Repeat("s", names.SlotLen))) {
		t.Fatalf("sender not truncated: %q", got[4:36])
	}
}

func TestReadRoundTrip(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		svc     ServiceType
		sender  string
		groups  []string
		payload []byte
	}{
		{name: "no groups empty payload", svc: Kill, sender: "#a#h", groups: nil, payload: nil},
		{name: "one group", svc: ReliableMulticast, sender: "#de#localhost", groups: []string{"foo"}, payload: []byte("beef")},
		{name: "many groups", svc: Agreed, sender: "x", groups: []string{"a", "bb", strings.Repeat("c", names.SlotLen)}, payload: bytes.Repeat([]byte{0, 1, 2}, 300)},
		{name: "full sender slot", svc: Safe, sender: strings.Repeat("s", names.SlotLen), groups: []string{"g"}, payload: []byte{0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Encode(names.Latin1, tc.svc, tc.sender, tc.groups, tc.payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			msg, err := Read(bytes.NewReader(raw), names.Latin1, DefaultLimits())
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if msg.ServiceType != tc.svc || msg.Sender != tc.sender {
				t.Fatalf("header mismatch: got=%v/%q want=%v/%q", msg.ServiceType, msg.Sender, tc.svc, tc.sender)
			}
			if len(msg.Groups) != len(tc.groups) {
				t.Fatalf("group count got=%d want=%d", len(msg.Groups), len(tc.groups))
			}
			for i := range tc.groups {
				if msg.Groups[i] != tc.groups[i] {
					t.Fatalf("group[%d] got=%q want=%q", i, msg.Groups[i], tc.groups[i])
				}
			}
			if !bytes.Equal(msg.Data, tc.payload) {
				t.Fatalf("payload mismatch")
			}
		})
	}
}

func TestReadByteSwappedFrame(t *testing.T) {
	testlog.Start(t)
	var raw []byte
	raw = wire.AppendU32(raw, wire.FlipU32(uint32(Agreed))|wire.EndianMarker)
	raw = append(raw, padded("#peer#remote")...)
	raw = wire.AppendU32(raw, wire.FlipU32(2))
	raw = wire.AppendU32(raw, 0)
	raw = wire.AppendU32(raw, wire.FlipU32(3))
	raw = append(raw, padded("alpha")...)
	raw = append(raw, padded("beta")...)
	raw = append(raw, "xyz"...)

	msg, err := Read(bytes.NewReader(raw), names.Latin1, DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.ServiceType != Agreed {
		t.Fatalf("service type got=%v", msg.ServiceType)
	}
	if msg.Sender != "#peer#remote" {
		t.Fatalf("sender got=%q", msg.Sender)
	}
	if len(msg.Groups) != 2 || msg.Groups[0] != "alpha" || msg.Groups[1] != "beta" {
		t.Fatalf("groups got=%v", msg.Groups)
	}
	if string(msg.Data) != "xyz" {
		t.Fatalf("data got=%q", msg.Data)
	}
}

func TestDecodeHeaderSharesOneOrder(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(names.Latin1, ReliableMulticast, "de", []string{"foo"}, []byte("beef"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, err := DecodeHeader(names.Latin1, raw[:HeaderLen])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.Order.Swap {
		t.Fatalf("native frame decoded as swapped")
	}
	if h.GroupCount != 1 || h.Reserved != 0 || h.DataLen != 4 {
		t.Fatalf("unexpected header %+v", h)
	}
}

func TestReadShortFrameIsTransportError(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(names.Latin1, ReliableMulticast, "de", []string{"foo"}, []byte("beef"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, cut := range []int{0, 10, HeaderLen + 5, len(raw) - 1} {
		_, err := Read(bytes.NewReader(raw[:cut]), names.Latin1, DefaultLimits())
		if !errors.Is(err, protocol.ErrTransportError) {
			t.Fatalf("cut=%d expected ErrTransportError, got %v", cut, err)
		}
	}
	_, err = Read(bytes.NewReader(nil), names.Latin1, DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected wrapped io.EOF on empty stream, got %v", err)
	}
}

func TestReadRejectsOversizedCounts(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(names.Latin1, ReliableMulticast, "de", []string{"a", "b"}, []byte("beef"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = Read(bytes.NewReader(raw), names.Latin1, Limits{MaxGroups: 1, MaxDataBytes: 16})
	if !errors.Is(err, protocol.ErrMalformedServerResponse) {
		t.Fatalf("expected ErrMalformedServerResponse for groups, got %v", err)
	}
	_, err = Read(bytes.NewReader(raw), names.Latin1, Limits{MaxGroups: 4, MaxDataBytes: 2})
	if !errors.Is(err, protocol.ErrMalformedServerResponse) {
		t.Fatalf("expected ErrMalformedServerResponse for data, got %v", err)
	}
}

func TestServiceTypeClassification(t *testing.T) {
	testlog.Start(t)
	if !Agreed.IsRegular() || Agreed.IsMembership() {
		t.Fatalf("agreed should be regular")
	}
	memb := RegularMembership | CausedByJoin
	if !memb.IsMembership() || memb.IsRegular() {
		t.Fatalf("membership misclassified")
	}
	if Join.String() != "join" || (Reliable | SelfDiscard).String() != "reliable|self-discard" {
		t.Fatalf("unexpected names %q %q", Join.String(), (Reliable | SelfDiscard).String())
	}
}
