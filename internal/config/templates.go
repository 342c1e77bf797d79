package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	case "solo":
		return soloTemplate, nil
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

const serverTemplate = `name = "edgewire-server"
role = "server"
transport = "tcp"
listen_addr = ":9400"
admin_addr = ":9401"
admin_token = ""
cors_origins = ["http://localhost:3000"]
max_unit = 1200
max_payload_bytes = 8388608
poll_interval_ms = 16
companion = true
log_level = "info"

[security]
mode = "development"

[security.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const clientTemplate = `name = "edgewire-client"
role = "client"
transport = "tcp"
server_addr = "localhost:9400"
max_unit = 1200
poll_interval_ms = 16
max_connect_attempts = 10
companion = false

[security]
mode = "development"

[security.tls]
enabled = false
server_name = ""
ca_file = ""
insecure_skip_verify = false
`

const soloTemplate = `name = "edgewire-solo"
role = "solo"
admin_addr = ":9401"
max_unit = 1200
poll_interval_ms = 16
companion = true
`
