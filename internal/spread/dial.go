package spread

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/danmuck/spreadctl/internal/protocol"
	"golang.org/x/net/proxy"
)

// Dial opens the byte stream to the daemon: plain TCP, optionally through a
// SOCKS5 proxy, optionally wrapped in TLS.
func Dial(ctx context.Context, cfg Config) (net.Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rawConn, err := dialTCP(ctx, cfg)
	if err != nil {
		return nil, protocol.NewError(protocol.KindConnectionFailed, "dial "+cfg.Address, err)
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, protocol.NewError(protocol.KindConnectionFailed, "tls handshake", err)
	}
	return conn, nil
}

func dialTCP(ctx context.Context, cfg Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	if strings.TrimSpace(cfg.Proxy) == "" {
		return dialer.DialContext(ctx, "tcp", cfg.Address)
	}

	u, err := url.Parse(strings.TrimSpace(cfg.Proxy))
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	d, err := proxy.FromURL(u, dialer)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", u.Redacted(), err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", cfg.Address)
	}
	return d.Dial("tcp", cfg.Address)
}
