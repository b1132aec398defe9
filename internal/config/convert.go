package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/spreadctl/internal/spread"
)

// Spread converts the file form into a session config with defaults applied.
func (c ClientConfig) Spread() (spread.Config, error) {
	cfg := spread.DefaultConfig()
	if a := strings.TrimSpace(c.Address); a != "" {
		cfg.Address = spread.NormalizeAddress(a)
	}
	cfg.PrivateName = strings.TrimSpace(c.PrivateName)
	if c.Membership != nil {
		cfg.Membership = *c.Membership
	}
	cfg.Proxy = strings.TrimSpace(c.Proxy)

	for _, field := range []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", c.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", c.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", c.WriteTimeout, &cfg.WriteTimeout},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		d, err := ParseDuration(field.value)
		if err != nil {
			return spread.Config{}, fmt.Errorf("%s: %w", field.key, err)
		}
		*field.dst = d
	}

	if m := strings.TrimSpace(c.SecurityMode); m != "" {
		cfg.SecurityMode = spread.NormalizeSecurityMode(spread.SecurityMode(m))
	}
	cfg.TLS = spread.TLSConfig{
		Enabled:            c.TLS.Enabled,
		Mutual:             c.TLS.Mutual,
		CertFile:           strings.TrimSpace(c.TLS.CertFile),
		KeyFile:            strings.TrimSpace(c.TLS.KeyFile),
		CAFile:             strings.TrimSpace(c.TLS.CAFile),
		ServerName:         strings.TrimSpace(c.TLS.ServerName),
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
	return cfg, nil
}

// NormalizedGroups trims names and drops blanks and duplicates.
func (c ClientConfig) NormalizedGroups() []string {
	out := make([]string, 0, len(c.Groups))
	seen := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
