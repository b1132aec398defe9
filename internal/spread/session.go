package spread

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/spreadctl/internal/observability"
	"github.com/danmuck/spreadctl/internal/protocol"
	"github.com/danmuck/spreadctl/internal/protocol/frame"
	"github.com/danmuck/spreadctl/internal/protocol/handshake"
	"github.com/danmuck/spreadctl/internal/protocol/names"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("spread: daemon address required")
	ErrInvalidAddress  = errors.New("spread: invalid daemon address")
	ErrInvalidProxy    = errors.New("spread: invalid proxy url")
	ErrSessionClosed   = errors.New("spread: session disconnected")
	ErrNoGroups        = errors.New("spread: at least one group required")
	ErrStreamBroken    = errors.New("spread: receive stream lost frame alignment")
)

// GroupOp is a control request recorded by a session.
type GroupOp string

const (
	OpJoin  GroupOp = "join"
	OpLeave GroupOp = "leave"
)

// GroupRequest is one join or leave frame that was written to the daemon.
type GroupRequest struct {
	Op    GroupOp `json:"op"`
	Group string  `json:"group"`
}

// Session is one live connection to a Spread daemon. Writes are serialized
// internally; one goroutine may call Receive while others write.
type Session struct {
	rw          io.ReadWriter
	cfg         Config
	privateName string
	version     handshake.Version
	logger      zerolog.Logger

	writeMu sync.Mutex
	readMu  sync.Mutex
	// readErr is set once a failed Receive consumed part of a frame; guarded by readMu.
	readErr error

	mu       sync.RWMutex
	closed   bool
	requests []GroupRequest
}

// Connect dials the daemon described by cfg and performs the handshake.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	conn, err := Dial(ctx, cfg)
	if err != nil {
		observability.RecordHandshake("dial_failed", 0)
		log.Warn().Str("addr", cfg.Address).Err(err).Msg("spread dial failed")
		return nil, err
	}
	s, err := NewSession(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession runs the handshake over an already established stream. The
// stream is owned by the returned session.
func NewSession(ctx context.Context, rw io.ReadWriter, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := rw.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(deadline(ctx, cfg.HandshakeTimeout))
		defer func() { _ = d.SetDeadline(time.Time{}) }()
	}

	start := time.Now()
	res, err := handshake.Perform(rw, handshake.Request{
		PrivateName: cfg.PrivateName,
		Membership:  cfg.Membership,
		Codec:       cfg.Codec,
	})
	elapsed := time.Since(start)
	if err != nil {
		observability.RecordHandshake(handshakeResult(err), elapsed)
		log.Warn().
			Str("addr", remoteAddr(rw)).
			Str("requested_name", cfg.PrivateName).
			Err(err).
			Msg("spread handshake failed")
		return nil, err
	}
	observability.RecordHandshake("accepted", elapsed)

	s := &Session{
		rw:          rw,
		cfg:         cfg,
		privateName: res.PrivateName,
		version:     res.Version,
		logger: log.With().
			Str("component", "spread").
			Str("private_name", res.PrivateName).
			Logger(),
	}
	s.logger.Info().
		Str("addr", remoteAddr(rw)).
		Str("daemon_version", res.Version.String()).
		Strs("auth_methods", res.AuthMethods).
		Bool("membership", cfg.Membership).
		Dur("elapsed", elapsed).
		Msg("spread session established")
	return s, nil
}

func (s *Session) PrivateName() string {
	return s.privateName
}

// Membership reports whether the session asked for membership notifications.
func (s *Session) Membership() bool {
	return s.cfg.Membership
}

func (s *Session) DaemonVersion() handshake.Version {
	return s.version
}

func (s *Session) RemoteAddr() string {
	return remoteAddr(s.rw)
}

// Closed reports whether Disconnect or Close has run.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Join asks the daemon to add this session to group.
func (s *Session) Join(ctx context.Context, group string) error {
	return s.control(ctx, OpJoin, frame.Join, group)
}

// Leave asks the daemon to remove this session from group.
func (s *Session) Leave(ctx context.Context, group string) error {
	return s.control(ctx, OpLeave, frame.Leave, group)
}

// Multicast sends data reliably to every group. The daemon enforces its own
// size limit and reports MessageTooLong asynchronously.
func (s *Session) Multicast(ctx context.Context, groups []string, data []byte) error {
	if len(groups) == 0 {
		return ErrNoGroups
	}
	return s.send(ctx, frame.ReliableMulticast, groups, data)
}

// Disconnect sends a kill frame addressed to this session's private name and
// invalidates the session whether or not the write succeeded. The transport
// stays open; Close releases it.
func (s *Session) Disconnect(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Closed() {
		return ErrSessionClosed
	}
	err := s.writeFrame(ctx, frame.Kill, []string{s.privateName}, nil)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("spread disconnect write failed")
		return err
	}
	s.logger.Info().Msg("spread session disconnected")
	return nil
}

// Close disconnects a live session and closes the transport if it can be closed.
func (s *Session) Close() error {
	var disconnectErr error
	if !s.Closed() {
		disconnectErr = s.Disconnect(context.Background())
	}
	if c, ok := s.rw.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return disconnectErr
}

// Receive blocks until one complete frame has arrived. A failure after part
// of a frame was consumed breaks the read side: every later Receive returns
// an error wrapping ErrStreamBroken. A timeout before the first byte leaves
// the session usable.
func (s *Session) Receive(ctx context.Context) (frame.Message, error) {
	if err := ctx.Err(); err != nil {
		return frame.Message{}, err
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.Closed() {
		return frame.Message{}, ErrSessionClosed
	}
	if s.readErr != nil {
		return frame.Message{}, s.readErr
	}
	if d, ok := s.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		if err := d.SetReadDeadline(deadline(ctx, s.cfg.ReadTimeout)); err != nil {
			return frame.Message{}, protocol.NewError(protocol.KindTransportError, "set read deadline", err)
		}
	}
	cr := &countingReader{r: s.rw}
	msg, err := frame.Read(cr, s.cfg.Codec, s.cfg.Limits)
	if err != nil {
		if cr.n > 0 {
			s.readErr = protocol.NewError(protocol.KindTransportError, "receive after partial frame",
				fmt.Errorf("%w: %w", ErrStreamBroken, err))
			s.logger.Warn().Err(err).Int("consumed", cr.n).Msg("spread receive stream broken")
		}
		return frame.Message{}, err
	}
	observability.RecordFrame(observability.DirectionReceived, msg.ServiceType.String(),
		frame.HeaderLen+len(msg.Groups)*names.SlotLen+len(msg.Data))
	s.logger.Debug().
		Stringer("service", msg.ServiceType).
		Str("sender", msg.Sender).
		Strs("groups", msg.Groups).
		Int("bytes", len(msg.Data)).
		Msg("spread frame received")
	return msg, nil
}

// Requests returns every join and leave written so far, in order and without
// deduplication. Entries reflect frames written, not daemon acknowledgement.
func (s *Session) Requests() []GroupRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GroupRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Groups returns the membership implied by Requests: a group is listed once,
// in first-join order, while its latest request is a join.
func (s *Session) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, r := range s.requests {
		idx := -1
		for i, g := range out {
			if g == r.Group {
				idx = i
				break
			}
		}
		switch {
		case r.Op == OpJoin && idx < 0:
			out = append(out, r.Group)
		case r.Op == OpLeave && idx >= 0:
			out = append(out[:idx], out[idx+1:]...)
		}
	}
	return out
}

func (s *Session) control(ctx context.Context, op GroupOp, svc frame.ServiceType, group string) error {
	if err := s.send(ctx, svc, []string{group}, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.requests = append(s.requests, GroupRequest{Op: op, Group: group})
	s.mu.Unlock()
	s.logger.Debug().Str("op", string(op)).Str("group", group).Msg("spread group request written")
	return nil
}

func (s *Session) send(ctx context.Context, svc frame.ServiceType, groups []string, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Closed() {
		return ErrSessionClosed
	}
	return s.writeFrame(ctx, svc, groups, data)
}

// writeFrame requires writeMu.
func (s *Session) writeFrame(ctx context.Context, svc frame.ServiceType, groups []string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := s.rw.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if err := d.SetWriteDeadline(deadline(ctx, s.cfg.WriteTimeout)); err != nil {
			return protocol.NewError(protocol.KindTransportError, "set write deadline", err)
		}
	}
	n, err := frame.Write(s.rw, s.cfg.Codec, svc, s.privateName, groups, data)
	if err != nil {
		return err
	}
	observability.RecordFrame(observability.DirectionSent, svc.String(), n)
	return nil
}

// deadline picks the earlier of now+timeout and the ctx deadline. A zero
// timeout with no ctx deadline means no deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

// countingReader counts bytes taken from the stream so Receive can tell a
// clean timeout from one that split a frame.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func remoteAddr(rw io.ReadWriter) string {
	if a, ok := rw.(interface{ RemoteAddr() net.Addr }); ok && a.RemoteAddr() != nil {
		return a.RemoteAddr().String()
	}
	return ""
}

func handshakeResult(err error) string {
	switch protocol.KindOf(err) {
	case protocol.KindConnectionRefused:
		return "refused"
	case protocol.KindProtocolVersionUnsupported:
		return "version_unsupported"
	case protocol.KindMalformedServerResponse:
		return "malformed"
	case protocol.KindEncodingFailed:
		return "encoding_failed"
	case protocol.KindTransportError:
		return "transport_error"
	default:
		return "connection_failed"
	}
}
