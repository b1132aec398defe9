package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/spreadctl/internal/config"
	"github.com/danmuck/spreadctl/internal/spread"
)

type fileConfig struct {
	Address          string   `toml:"address"`
	PrivateName      string   `toml:"private_name"`
	Membership       bool     `toml:"membership"`
	Groups           []string `toml:"groups"`
	Proxy            string   `toml:"proxy"`
	ConnectTimeout   string   `toml:"connect_timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	ReadTimeout      string   `toml:"read_timeout"`
	WriteTimeout     string   `toml:"write_timeout"`
	SecurityMode     string   `toml:"security_mode"`
	TLS              struct {
		Enabled            bool   `toml:"enabled"`
		Mutual             bool   `toml:"mutual"`
		CertFile           string `toml:"cert_file"`
		KeyFile            string `toml:"key_file"`
		CAFile             string `toml:"ca_file"`
		ServerName         string `toml:"server_name"`
		InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	} `toml:"tls"`
	Admin config.AdminConfig `toml:"admin"`
}

// settings is everything a command needs after file and flag overlays.
type settings struct {
	Session spread.Config
	Groups  []string
	Admin   config.AdminConfig
}

func defaultSettings() settings {
	return settings{Session: spread.DefaultConfig()}
}

// loadSettings overlays the keys present in path onto the defaults. Absent
// keys keep their default, unlike the strict loader behind `config validate`.
func loadSettings(path string) (settings, error) {
	out := defaultSettings()
	if strings.TrimSpace(path) == "" {
		return out, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load spreadctl config: %w", err)
	}
	cfg := &out.Session

	if meta.IsDefined("address") {
		cfg.Address = spread.NormalizeAddress(raw.Address)
	}
	if meta.IsDefined("private_name") {
		cfg.PrivateName = strings.TrimSpace(raw.PrivateName)
	}
	if meta.IsDefined("membership") {
		cfg.Membership = raw.Membership
	}
	if meta.IsDefined("groups") {
		out.Groups = normalizeGroups(raw.Groups)
	}
	if meta.IsDefined("proxy") {
		cfg.Proxy = strings.TrimSpace(raw.Proxy)
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
	} {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := config.ParseDuration(d.raw)
		if err != nil {
			return settings{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("security_mode") {
		cfg.SecurityMode = spread.NormalizeSecurityMode(spread.SecurityMode(raw.SecurityMode))
	}
	if meta.IsDefined("tls") {
		cfg.TLS = spread.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			Mutual:             raw.TLS.Mutual,
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}
	if meta.IsDefined("admin") {
		out.Admin = raw.Admin
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return settings{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return out, nil
}

// apply overlays command-line flags that were set explicitly.
func (s settings) apply(f sessionFlags, changed func(string) bool) (settings, error) {
	if changed("addr") {
		s.Session.Address = spread.NormalizeAddress(f.addr)
	}
	if changed("name") {
		s.Session.PrivateName = strings.TrimSpace(f.name)
	}
	if changed("proxy") {
		s.Session.Proxy = strings.TrimSpace(f.proxy)
	}
	if changed("no-membership") {
		s.Session.Membership = !f.noMember
	}
	if changed("group") {
		s.Groups = normalizeGroups(f.groups)
	}
	if changed("admin") {
		s.Admin.Addr = strings.TrimSpace(f.adminAddr)
	}
	if changed("read-timeout") {
		d, err := config.ParseDuration(f.readTimeout)
		if err != nil {
			return settings{}, fmt.Errorf("parse --read-timeout: %w", err)
		}
		s.Session.ReadTimeout = d
	}
	return s, s.Session.Validate()
}

func normalizeGroups(in []string) []string {
	return config.ClientConfig{Groups: in}.NormalizedGroups()
}
