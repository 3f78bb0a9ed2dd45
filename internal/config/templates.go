package config

import (
	"fmt"
	"os"
	"strings"
)

// Kinds lists the template kinds Template accepts.
var Kinds = []string{"server", "client"}

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// Validate loads path as the given kind and reports the first problem.
func Validate(kind, path string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		_, err := LoadServerConfig(path)
		return err
	case "client":
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
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

const serverTemplate = `name = "isonpd"
addr = ":9000"
cors_origins = ["http://localhost:3000"]

# how long GET /poll waits for a message; short-mode polls never wait
poll_hold = "25s"
session_ttl = "2m"
sweep_interval = "30s"

max_queue = 256
max_message_bytes = 65536

# clients pass a token as ?token= on write_url or as a bearer header
write_tokens = []
# tls_cert_file = "certs/server.crt"
# tls_key_file = "certs/server.key"
`

const clientTemplate = `url = "http://localhost:9000/poll"
write_url = "http://localhost:9000/write"
global = "__isonp"

# long: one poll in flight, next one after interval
# short: a poll every interval, overlapping allowed
mode = "long"
timeout = "60s"
interval = "1s"
`
