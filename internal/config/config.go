package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/spreadctl/internal/protocol/names"
	"github.com/pelletier/go-toml/v2"
)

type ClientConfig struct {
	Address     string `toml:"address"`
	PrivateName string `toml:"private_name"`

	// Membership is a pointer so an absent key keeps the default of true.
	Membership *bool    `toml:"membership"`
	Groups     []string `toml:"groups"`
	Proxy      string   `toml:"proxy"`

	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	ReadTimeout      string `toml:"read_timeout"`
	WriteTimeout     string `toml:"write_timeout"`

	SecurityMode string      `toml:"security_mode"`
	TLS          TLSConfig   `toml:"tls"`
	Admin        AdminConfig `toml:"admin"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// AdminConfig enables the HTTP admin surface when Addr is set. Token, when
// set, is required as a bearer token on POST routes.
type AdminConfig struct {
	Addr           string   `toml:"addr"`
	CorsOrigins    []string `toml:"cors_origins"`
	TrustedProxies []string `toml:"trusted_proxies"`
	Token          string   `toml:"token"`
}

// LoadClientConfig parses path strictly: unknown keys are an error.
func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = "127.0.0.1:4803"
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strings.TrimSpace(strict.String()))
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("client config missing address")
	}
	for i, group := range cfg.Groups {
		g := strings.TrimSpace(group)
		if g == "" {
			return fmt.Errorf("groups[%d] is empty", i)
		}
		if len(g) > names.SlotLen {
			return fmt.Errorf("groups[%d] %q longer than %d bytes", i, g, names.SlotLen)
		}
	}
	sc, err := cfg.Spread()
	if err != nil {
		return err
	}
	return sc.Validate()
}

// ParseDuration treats an empty string as unset and rejects negative values.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", v)
	}
	return d, nil
}
