// Package daemon is a scripted single-connection Spread daemon for tests.
package daemon

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/spreadctl/internal/protocol"
	"github.com/danmuck/spreadctl/internal/protocol/frame"
	"github.com/danmuck/spreadctl/internal/protocol/handshake"
	"github.com/danmuck/spreadctl/internal/protocol/names"
)

// Options scripts the daemon's side of the handshake.
type Options struct {
	AuthMethods string
	// Refuse, when non-zero, is sent instead of the accept byte.
	Refuse byte
	Version [3]byte
	// AssignedName defaults to "#<requested>#test".
	AssignedName string
	TLS          *tls.Config
}

// Hello is the connect request the client sent.
type Hello struct {
	Major, Minor, Patch byte
	Flags               byte
	Name                string
	AuthChoice          []byte
}

type Daemon struct {
	t  testing.TB
	ln net.Listener

	mu     sync.Mutex
	conn   net.Conn
	ready  chan struct{}
	hello  Hello
	frames chan frame.Message
	err    error
}

// Start listens on a loopback port and serves the first connection.
func Start(t testing.TB, opts Options) *Daemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("daemon listen: %v", err)
	}
	if opts.TLS != nil {
		ln = tls.NewListener(ln, opts.TLS)
	}
	d := newDaemon(t)
	d.ln = ln
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			d.fail(err)
			close(d.ready)
			close(d.frames)
			return
		}
		d.serve(conn, opts)
	}()
	t.Cleanup(d.Close)
	return d
}

// Pipe serves the daemon side of an in-memory connection and returns the
// client side.
func Pipe(t testing.TB, opts Options) (net.Conn, *Daemon) {
	t.Helper()
	client, server := net.Pipe()
	d := newDaemon(t)
	go d.serve(server, opts)
	t.Cleanup(func() {
		_ = client.Close()
		d.Close()
	})
	return client, d
}

func newDaemon(t testing.TB) *Daemon {
	return &Daemon{
		t:      t,
		ready:  make(chan struct{}),
		frames: make(chan frame.Message, 64),
	}
}

func (d *Daemon) Addr() string {
	return d.ln.Addr().String()
}

func (d *Daemon) serve(conn net.Conn, opts Options) {
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	hello, err := handshakeServer(conn, opts)
	d.mu.Lock()
	d.hello = hello
	d.err = err
	d.mu.Unlock()
	close(d.ready)
	if err != nil || opts.Refuse != 0 {
		return
	}

	for {
		msg, err := frame.Read(conn, names.Latin1, frame.DefaultLimits())
		if err != nil {
			close(d.frames)
			return
		}
		d.frames <- msg
	}
}

func handshakeServer(conn net.Conn, opts Options) (Hello, error) {
	var head [5]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return Hello{}, err
	}
	name := make([]byte, head[4])
	if _, err := io.ReadFull(conn, name); err != nil {
		return Hello{}, err
	}
	hello := Hello{Major: head[0], Minor: head[1], Patch: head[2], Flags: head[3], Name: string(name)}

	methods := opts.AuthMethods
	if methods == "" {
		methods = handshake.NullAuth
	}
	if _, err := conn.Write(append([]byte{byte(len(methods))}, methods...)); err != nil {
		return hello, err
	}
	hello.AuthChoice = make([]byte, handshake.AuthChoiceLen)
	if _, err := io.ReadFull(conn, hello.AuthChoice); err != nil {
		return hello, err
	}
	if opts.Refuse != 0 {
		_, err := conn.Write([]byte{opts.Refuse})
		return hello, err
	}

	version := opts.Version
	if version == ([3]byte{}) {
		version = [3]byte{handshake.MajorVersion, handshake.MinorVersion, handshake.PatchVersion}
	}
	assigned := opts.AssignedName
	if assigned == "" {
		assigned = "#" + hello.Name + "#test"
	}
	var reply bytes.Buffer
	reply.WriteByte(byte(protocol.AcceptSession))
	reply.Write(version[:])
	reply.WriteByte(byte(len(assigned)))
	reply.WriteString(assigned)
	_, err := conn.Write(reply.Bytes())
	return hello, err
}

// Hello waits for the handshake and returns the client's connect request.
func (d *Daemon) Hello() Hello {
	d.t.Helper()
	d.wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		d.t.Fatalf("daemon handshake: %v", d.err)
	}
	return d.hello
}

// Next returns the next frame the client wrote.
func (d *Daemon) Next() frame.Message {
	d.t.Helper()
	select {
	case msg, ok := <-d.frames:
		if !ok {
			d.mu.Lock()
			err := d.err
			d.mu.Unlock()
			d.t.Fatalf("daemon: client stream closed: %v", err)
		}
		return msg
	case <-time.After(5 * time.Second):
		d.t.Fatalf("daemon: timed out waiting for frame")
	}
	return frame.Message{}
}

// Send writes raw bytes to the client.
func (d *Daemon) Send(raw []byte) {
	d.t.Helper()
	d.wait()
	d.mu.Lock()
	conn, err := d.conn, d.err
	d.mu.Unlock()
	if conn == nil {
		d.t.Fatalf("daemon send: no client connection: %v", err)
	}
	if _, err := conn.Write(raw); err != nil {
		d.t.Fatalf("daemon send: %v", err)
	}
}

// SendMessage encodes and writes one frame to the client.
func (d *Daemon) SendMessage(svc frame.ServiceType, sender string, groups []string, data []byte) {
	d.t.Helper()
	raw, err := frame.Encode(names.Latin1, svc, sender, groups, data)
	if err != nil {
		d.t.Fatalf("daemon encode: %v", err)
	}
	d.Send(raw)
}

// CloseConn drops the client connection.
func (d *Daemon) CloseConn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

func (d *Daemon) Close() {
	d.CloseConn()
	if d.ln != nil {
		_ = d.ln.Close()
	}
}

func (d *Daemon) wait() {
	select {
	case <-d.ready:
	case <-time.After(5 * time.Second):
		d.t.Fatalf("daemon: timed out waiting for handshake")
	}
}

func (d *Daemon) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}
