package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "development", "dev":
		return developmentTemplate, nil
	case "production", "prod":
		return productionTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const developmentTemplate = `address = "127.0.0.1:4803"
private_name = "spreadctl"
membership = true
groups = ["chat"]
connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "15s"
security_mode = "development"

[admin]
addr = "127.0.0.1:7080"
cors_origins = ["http://localhost:3000"]
`

const productionTemplate = `address = "spread.internal:4803"
private_name = "spreadctl"
membership = true
groups = []
connect_timeout = "5s"
handshake_timeout = "5s"
read_timeout = "0s"
write_timeout = "15s"
security_mode = "production"

[tls]
enabled = true
mutual = true
ca_file = "/etc/spreadctl/ca.crt"
cert_file = "/etc/spreadctl/client.crt"
key_file = "/etc/spreadctl/client.key"
server_name = "spread.internal"

[admin]
addr = "127.0.0.1:7080"
trusted_proxies = []
`
