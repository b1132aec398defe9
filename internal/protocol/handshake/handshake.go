// Package handshake drives the Spread connect sequence over an established
// byte stream.
//
// The sequence is blocking and single-shot:
//
//	client -> connect      major minor patch flags name_len name
//	daemon -> auth offer   len methods
//	client -> auth choice  "NULL" padded to 91 bytes
//	daemon -> accept       1 byte, AcceptSession on success
//	daemon -> version      major minor patch
//	daemon -> private name len name
package handshake

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/spreadctl/internal/protocol"
	"github.com/danmuck/spreadctl/internal/protocol/names"
)

const (
	MajorVersion byte = 4
	MinorVersion byte = 4
	PatchVersion byte = 0

	// PriorityFlag is reserved by the daemon and never set by this client.
	PriorityFlag   byte = 0x01
	MembershipFlag byte = 0x10

	MaxPrivateNameLength = 10
	MaxAuthNameLength    = 30
	MaxAuthMethodCount   = 3
	AuthChoiceLen        = MaxAuthNameLength*MaxAuthMethodCount + 1

	// MinVersionSum is 3.1.0 as major*10000 + minor*100 + patch.
	MinVersionSum = 30100

	// NullAuth is the only authentication method this client offers.
	NullAuth = "NULL"
)

// Request is what the client asks for at connect time.
type Request struct {
	PrivateName string
	Membership  bool
	Codec       names.Codec
}

// Version is the daemon's protocol version.
type Version struct {
	Major byte
	Minor byte
	Patch byte
}

func (v Version) Sum() int {
	return int(v.Major)*10000 + int(v.Minor)*100 + int(v.Patch)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Result describes an accepted session.
type Result struct {
	PrivateName string
	Version     Version
	AuthMethods []string
}

// EncodeConnect builds the first client frame. Private names longer than
// MaxPrivateNameLength are truncated.
func EncodeConnect(codec names.Codec, name string, membership bool) ([]byte, error) {
	raw, err := codec.Encode(name)
	if err != nil {
		if protocol.KindOf(err) == protocol.KindEncodingFailed {
			return nil, err
		}
		return nil, protocol.NewError(protocol.KindEncodingFailed, fmt.Sprintf("encode private name %q", name), err)
	}
	if len(raw) > MaxPrivateNameLength {
		raw = raw[:MaxPrivateNameLength]
	}
	var flags byte
	if membership {
		flags |= MembershipFlag
	}
	buf := make([]byte, 0, 5+len(raw))
	buf = append(buf, MajorVersion, MinorVersion, PatchVersion, flags, byte(len(raw)))
	buf = append(buf, raw...)
	return buf, nil
}

// EncodeAuthChoice returns the fixed-width auth method selection.
func EncodeAuthChoice() []byte {
	buf := make([]byte, AuthChoiceLen)
	copy(buf, NullAuth)
	return buf
}

// Perform runs the whole connect sequence on rw.
func Perform(rw io.ReadWriter, req Request) (Result, error) {
	codec := req.Codec
	if codec == nil {
		codec = names.Latin1
	}

	connect, err := EncodeConnect(codec, req.PrivateName, req.Membership)
	if err != nil {
		return Result{}, err
	}
	if _, err := rw.Write(connect); err != nil {
		return Result{}, protocol.IOError("write connect", err)
	}

	methods, err := readAuthOffer(rw)
	if err != nil {
		return Result{}, err
	}

	if _, err := rw.Write(EncodeAuthChoice()); err != nil {
		return Result{}, protocol.IOError("write auth choice", err)
	}

	accepted, err := readByte(rw, "accept")
	if err != nil {
		return Result{}, err
	}
	if protocol.Code(accepted) != protocol.AcceptSession {
		return Result{}, protocol.Refused(protocol.SignExtend(accepted), "session not accepted")
	}

	var v [3]byte
	if _, err := io.ReadFull(rw, v[:]); err != nil {
		return Result{}, protocol.IOError("read version", err)
	}
	version := Version{Major: v[0], Minor: v[1], Patch: v[2]}
	if version.Sum() < MinVersionSum {
		return Result{}, protocol.NewError(protocol.KindProtocolVersionUnsupported,
			fmt.Sprintf("daemon version %s is older than 3.1.0", version), nil)
	}

	name, err := readPrivateName(rw)
	if err != nil {
		return Result{}, err
	}
	return Result{PrivateName: name, Version: version, AuthMethods: methods}, nil
}

func readAuthOffer(r io.Reader) ([]string, error) {
	n, err := readByte(r, "auth offer length")
	if err != nil {
		return nil, err
	}
	if n >= 128 {
		return nil, protocol.Refused(protocol.SignExtend(n), "daemon rejected connect")
	}
	list := make([]byte, n)
	if _, err := io.ReadFull(r, list); err != nil {
		return nil, protocol.IOError("read auth offer", err)
	}
	return splitAuthMethods(list), nil
}

func splitAuthMethods(list []byte) []string {
	fields := strings.FieldsFunc(string(bytes.TrimRight(list, "\x00")), func(r rune) bool {
		return r == ' ' || r == 0
	})
	return fields
}

func readPrivateName(r io.Reader) (string, error) {
	n, err := readByte(r, "private name length")
	if err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", protocol.IOError("read private name", err)
	}
	if !utf8.Valid(raw) {
		return "", protocol.NewError(protocol.KindMalformedServerResponse,
			fmt.Sprintf("private name %q is not valid utf-8", raw), nil)
	}
	return string(raw), nil
}

func readByte(r io.Reader, what string) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, protocol.IOError("read "+what, err)
	}
	return b[0], nil
}
