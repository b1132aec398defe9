package spread

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danmuck/spreadctl/internal/protocol"
	"github.com/danmuck/spreadctl/internal/protocol/frame"
	"github.com/danmuck/spreadctl/internal/protocol/handshake"
	"github.com/danmuck/spreadctl/internal/protocol/names"
	"github.com/danmuck/spreadctl/internal/protocol/wire"
	"github.com/danmuck/spreadctl/internal/testutil/daemon"
	"github.com/danmuck/spreadctl/internal/testutil/testlog"
)

// recorder answers the handshake from a script and captures every write.
type recorder struct {
	in       *bytes.Reader
	out      bytes.Buffer
	writeErr error
}

func acceptScript(name string) []byte {
	var b []byte
	b = append(b, 4)
	b = append(b, "NULL"...)
	b = append(b, 1, 4, 4, 0, byte(len(name)))
	b = append(b, name...)
	return b
}

func newRecorder(script []byte) *recorder {
	return &recorder{in: bytes.NewReader(script)}
}

func (r *recorder) Read(p []byte) (int, error) { return r.in.Read(p) }

func (r *recorder) Write(p []byte) (int, error) {
	if r.writeErr != nil {
		return 0, r.writeErr
	}
	return r.out.Write(p)
}

func recordedSession(t *testing.T, name string) (*Session, *recorder) {
	t.Helper()
	rec := newRecorder(acceptScript(name))
	s, err := NewSession(context.Background(), rec, Config{PrivateName: "client", Membership: true})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	rec.out.Reset()
	return s, rec
}

func slot(s string) []byte {
	out := make([]byte, names.SlotLen)
	copy(out, s)
	return out
}

func TestNewSessionAssignsDaemonName(t *testing.T) {
	testlog.Start(t)
	rec := newRecorder(acceptScript("abc"))
	s, err := NewSession(context.Background(), rec, Config{PrivateName: "test", Membership: true})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.PrivateName() != "abc" {
		t.Fatalf("private name got=%q", s.PrivateName())
	}
	if len(s.Groups()) != 0 || len(s.Requests()) != 0 {
		t.Fatalf("new session should have no groups")
	}
	if s.DaemonVersion() != (handshake.Version{Major: 4, Minor: 4, Patch: 0}) {
		t.Fatalf("daemon version got=%v", s.DaemonVersion())
	}
	want := []byte{4, 4, 0, 0x10, 4, 't', 'e', 's', 't'}
	if !bytes.HasPrefix(rec.out.Bytes(), want) {
		t.Fatalf("connect frame got=%v", rec.out.Bytes()[:len(want)])
	}
}

func TestMulticastExactBytes(t *testing.T) {
	testlog.Start(t)
	s, rec := recordedSession(t, "de")
	if err := s.Multicast(context.Background(), []string{"foo"}, []byte("beef")); err != nil {
		t.Fatalf("multicast: %v", err)
	}
	var want []byte
	want = append(want, 0, 0, 0, 2)
	want = append(want, slot("de")...)
	want = append(want, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 4)
	want = append(want, slot("foo")...)
	want = append(want, "beef"...)
	if !bytes.Equal(rec.out.Bytes(), want) {
		t.Fatalf("multicast bytes:\n got=%v\nwant=%v", rec.out.Bytes(), want)
	}
}

func TestMulticastRequiresGroups(t *testing.T) {
	testlog.Start(t)
	s, rec := recordedSession(t, "de")
	if err := s.Multicast(context.Background(), nil, []byte("x")); !errors.Is(err, ErrNoGroups) {
		t.Fatalf("expected ErrNoGroups, got %v", err)
	}
	if rec.out.Len() != 0 {
		t.Fatalf("nothing should be written")
	}
}

func TestJoinLeaveBookkeeping(t *testing.T) {
	testlog.Start(t)
	s, rec := recordedSession(t, "de")
	ctx := context.Background()
	for _, step := range []struct {
		op    GroupOp
		group string
	}{
		{OpJoin, "a"}, {OpJoin, "b"}, {OpJoin, "a"}, {OpLeave, "a"}, {OpLeave, "zzz"},
	} {
		var err error
		if step.op == OpJoin {
			err = s.Join(ctx, step.group)
		} else {
			err = s.Leave(ctx, step.group)
		}
		if err != nil {
			t.Fatalf("%s %s: %v", step.op, step.group, err)
		}
	}
	reqs := s.Requests()
	if len(reqs) != 5 || reqs[2] != (GroupRequest{Op: OpJoin, Group: "a"}) || reqs[3].Op != OpLeave {
		t.Fatalf("unexpected request log %+v", reqs)
	}
	groups := s.Groups()
	if len(groups) != 1 || groups[0] != "b" {
		t.Fatalf("unexpected groups %v", groups)
	}

	msg, err := frame.Read(bytes.NewReader(rec.out.Bytes()), names.Latin1, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read first written frame: %v", err)
	}
	if msg.ServiceType != frame.Join || msg.Sender != "de" || len(msg.Groups) != 1 || msg.Groups[0] != "a" || len(msg.Data) != 0 {
		t.Fatalf("unexpected join frame %+v", msg)
	}
}

func TestWriteFailureLeavesBookkeepingUntouched(t *testing.T) {
	testlog.Start(t)
	s, rec := recordedSession(t, "de")
	rec.writeErr = io.ErrClosedPipe
	err := s.Join(context.Background(), "a")
	if !errors.Is(err, protocol.ErrTransportError) || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(s.Requests()) != 0 {
		t.Fatalf("failed join recorded: %+v", s.Requests())
	}
}

func TestJoinRejectsOverLengthGroup(t *testing.T) {
	testlog.Start(t)
	s, rec := recordedSession(t, "de")
	err := s.Join(context.Background(), "this-group-name-is-far-too-long-for-a-slot")
	if !errors.Is(err, protocol.ErrEncodingFailed) {
		t.Fatalf("expected ErrEncodingFailed, got %v", err)
	}
	if rec.out.Len() != 0 || len(s.Requests()) != 0 {
		t.Fatalf("rejected join should not write or record")
	}
}

func TestDisconnectSendsKillAndInvalidates(t *testing.T) {
	testlog.Start(t)
	s, rec := recordedSession(t, "#de#host")
	ctx := context.Background()
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	msg, err := frame.Read(bytes.NewReader(rec.out.Bytes()), names.Latin1, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read kill frame: %v", err)
	}
	if msg.ServiceType != frame.Kill || len(msg.Groups) != 1 || msg.Groups[0] != s.PrivateName() {
		t.Fatalf("unexpected kill frame %+v", msg)
	}
	if !s.Closed() {
		t.Fatalf("session should be closed")
	}

	written := rec.out.Len()
	if err := s.Join(ctx, "a"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("join after disconnect: %v", err)
	}
	if err := s.Multicast(ctx, []string{"a"}, nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("multicast after disconnect: %v", err)
	}
	if err := s.Disconnect(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("second disconnect: %v", err)
	}
	if _, err := s.Receive(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("receive after disconnect: %v", err)
	}
	if rec.out.Len() != written {
		t.Fatalf("closed session wrote %d more bytes", rec.out.Len()-written)
	}
}

func TestCanceledContextWritesNothing(t *testing.T) {
	testlog.Start(t)
	s, rec := recordedSession(t, "de")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Join(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rec.out.Len() != 0 {
		t.Fatalf("canceled join wrote bytes")
	}
}

func TestConnectOverTCP(t *testing.T) {
	testlog.Start(t)
	d := daemon.Start(t, daemon.Options{AssignedName: "abc"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Connect(ctx, Config{Address: d.Addr(), PrivateName: "test_user_long", Membership: true})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	hello := d.Hello()
	if hello.Name != "test_user_" || hello.Flags != handshake.MembershipFlag {
		t.Fatalf("unexpected hello %+v", hello)
	}
	if string(hello.AuthChoice[:4]) != "NULL" {
		t.Fatalf("unexpected auth choice %q", hello.AuthChoice[:4])
	}
	if s.PrivateName() != "abc" || s.RemoteAddr() != d.Addr() {
		t.Fatalf("unexpected session name=%q addr=%q", s.PrivateName(), s.RemoteAddr())
	}

	if err := s.Join(ctx, "chat"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := d.Next(); got.ServiceType != frame.Join || got.Groups[0] != "chat" || got.Sender != "abc" {
		t.Fatalf("unexpected join frame %+v", got)
	}

	d.SendMessage(frame.Agreed, "#peer#h", []string{"chat"}, []byte("hello"))
	msg, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.ServiceType != frame.Agreed || msg.Sender != "#peer#h" || string(msg.Data) != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestReceiveByteSwappedFrame(t *testing.T) {
	testlog.Start(t)
	d := daemon.Start(t, daemon.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, Config{Address: d.Addr(), PrivateName: "u"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	var raw []byte
	raw = wire.AppendU32(raw, wire.FlipU32(uint32(frame.RegularMembership|frame.CausedByJoin))|wire.EndianMarker)
	raw = append(raw, slot("chat")...)
	raw = wire.AppendU32(raw, wire.FlipU32(1))
	raw = wire.AppendU32(raw, 0)
	raw = wire.AppendU32(raw, wire.FlipU32(2))
	raw = append(raw, slot("#u#test")...)
	raw = append(raw, 0xAB, 0xCD)
	d.Send(raw)

	msg, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !msg.ServiceType.IsMembership() || msg.ServiceType&frame.CausedByJoin == 0 {
		t.Fatalf("unexpected service type %v", msg.ServiceType)
	}
	if msg.Sender != "chat" || len(msg.Groups) != 1 || msg.Groups[0] != "#u#test" || !bytes.Equal(msg.Data, []byte{0xAB, 0xCD}) {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestConcurrentReceiverAndWriter(t *testing.T) {
	testlog.Start(t)
	d := daemon.Start(t, daemon.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, Config{Address: d.Addr(), PrivateName: "rw"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	got := make(chan frame.Message, 1)
	errc := make(chan error, 1)
	go func() {
		msg, err := s.Receive(ctx)
		if err != nil {
			errc <- err
			return
		}
		got <- msg
	}()

	if err := s.Multicast(ctx, []string{"g1", "g2"}, []byte("ping")); err != nil {
		t.Fatalf("multicast: %v", err)
	}
	sent := d.Next()
	if len(sent.Groups) != 2 || string(sent.Data) != "ping" {
		t.Fatalf("unexpected multicast frame %+v", sent)
	}
	d.SendMessage(frame.Safe, "#other#h", []string{"g1"}, []byte("pong"))

	select {
	case msg := <-got:
		if string(msg.Data) != "pong" {
			t.Fatalf("unexpected reply %+v", msg)
		}
	case err := <-errc:
		t.Fatalf("receive: %v", err)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for reply")
	}
}

func TestConnectRefused(t *testing.T) {
	testlog.Start(t)
	d := daemon.Start(t, daemon.Options{Refuse: 0xFA})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, Config{Address: d.Addr(), PrivateName: "dup"})
	code, ok := protocol.CodeOf(err)
	if !errors.Is(err, protocol.ErrConnectionRefused) || !ok || code != protocol.RejectNotUnique {
		t.Fatalf("expected REJECT_NOT_UNIQUE refusal, got %v", err)
	}
}

func TestConnectUnsupportedVersion(t *testing.T) {
	testlog.Start(t)
	d := daemon.Start(t, daemon.Options{Version: [3]byte{3, 0, 99}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, Config{Address: d.Addr(), PrivateName: "old"})
	if !errors.Is(err, protocol.ErrProtocolVersionUnsupported) {
		t.Fatalf("expected ErrProtocolVersionUnsupported, got %v", err)
	}
}

func TestReceiveAfterDaemonCloseIsTransportError(t *testing.T) {
	testlog.Start(t)
	conn, d := daemon.Pipe(t, daemon.Options{})
	s, err := NewSession(context.Background(), conn, Config{PrivateName: "p"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	d.Hello()
	d.CloseConn()
	if _, err := s.Receive(context.Background()); !errors.Is(err, protocol.ErrTransportError) {
		t.Fatalf("expected ErrTransportError, got %v", err)
	}
}

func TestCloseSendsKillThenClosesTransport(t *testing.T) {
	testlog.Start(t)
	conn, d := daemon.Pipe(t, daemon.Options{AssignedName: "#p#h"})
	s, err := NewSession(context.Background(), conn, Config{PrivateName: "p"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	kill := d.Next()
	if kill.ServiceType != frame.Kill || kill.Groups[0] != "#p#h" {
		t.Fatalf("unexpected kill frame %+v", kill)
	}
	if err := <-done; err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := conn.Write([]byte{0}); err == nil {
		t.Fatalf("transport should be closed")
	}
}

func TestReceiveTimeoutMidFrameBreaksReadSide(t *testing.T) {
	testlog.Start(t)
	d := daemon.Start(t, daemon.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, Config{Address: d.Addr(), PrivateName: "split", ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	raw, err := frame.Encode(names.Latin1, frame.Agreed, "#peer#h", []string{"chat"}, []byte("first"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Send(raw[:10])
	if _, err := s.Receive(ctx); !errors.Is(err, protocol.ErrTransportError) {
		t.Fatalf("expected ErrTransportError on split frame, got %v", err)
	}

	next, err := frame.Encode(names.Latin1, frame.Agreed, "#peer#h", []string{"chat"}, []byte("second"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Send(append(raw[10:], next...))
	_, err = s.Receive(ctx)
	if !errors.Is(err, ErrStreamBroken) || !errors.Is(err, protocol.ErrTransportError) {
		t.Fatalf("expected ErrStreamBroken after split frame, got %v", err)
	}
	if errors.Is(err, protocol.ErrMalformedServerResponse) {
		t.Fatalf("receive parsed from the middle of a frame: %v", err)
	}
}

func TestReceiveTimeoutBeforeFrameKeepsSession(t *testing.T) {
	testlog.Start(t)
	d := daemon.Start(t, daemon.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, Config{Address: d.Addr(), PrivateName: "idle", ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if _, err := s.Receive(ctx); !errors.Is(err, protocol.ErrTransportError) {
		t.Fatalf("expected timeout as ErrTransportError, got %v", err)
	}
	d.SendMessage(frame.Agreed, "#peer#h", []string{"chat"}, []byte("late"))
	msg, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("receive after idle timeout: %v", err)
	}
	if string(msg.Data) != "late" {
		t.Fatalf("unexpected message %+v", msg)
	}
}
