package spread

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/spreadctl/internal/protocol/frame"
	"github.com/danmuck/spreadctl/internal/protocol/names"
)

// DefaultPort is the port a Spread daemon listens on unless configured otherwise.
const DefaultPort = 4803

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig is used when the daemon sits behind a TLS terminator.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config describes one client session.
type Config struct {
	Address     string
	PrivateName string
	Membership  bool

	// Proxy is an optional socks5:// or socks5h:// URL the daemon is dialed through.
	Proxy string

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration

	// ReadTimeout of zero lets Receive block until a frame arrives.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	SecurityMode SecurityMode
	TLS          TLSConfig

	Codec  names.Codec
	Limits frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Address:          net.JoinHostPort("127.0.0.1", strconv.Itoa(DefaultPort)),
		Membership:       true,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		SecurityMode:     SecurityModeDevelopment,
		Codec:            names.Latin1,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Address) == "" {
		c.Address = d.Address
	} else {
		c.Address = NormalizeAddress(c.Address)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.Codec == nil {
		c.Codec = d.Codec
	}
	if c.Limits.MaxGroups == 0 {
		c.Limits.MaxGroups = d.Limits.MaxGroups
	}
	if c.Limits.MaxDataBytes == 0 {
		c.Limits.MaxDataBytes = d.Limits.MaxDataBytes
	}
	return c
}

// NormalizeAddress appends DefaultPort to a bare host. A bare port number
// ("4803") is read as a port on localhost.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if _, err := strconv.Atoi(addr); err == nil {
		return net.JoinHostPort("127.0.0.1", addr)
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(DefaultPort))
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if p := strings.TrimSpace(c.Proxy); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProxy, err)
		}
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
		}
	}
	return c.ValidateClientTransport()
}
