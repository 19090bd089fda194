package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bridge":
		return bridgeTemplate, nil
	case "client":
		return clientTemplate, nil
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

const bridgeTemplate = `name = "wsbridge"
addr = ":9090"
encoding = "json"
cors_origins = ["http://localhost:3000"]
max_message_bytes = 8388608
send_queue = 256
read_timeout = "60s"
write_timeout = "10s"
ping_interval = "30s"
call_timeout = "30s"
# tls_cert_file = "certs/bridge.crt"
# tls_key_file = "certs/bridge.key"
`

const clientTemplate = `url = "ws://localhost:9090/ws"
encoding = "json"
connect_attempts = 5
# tls_ca_file = "certs/ca.crt"

[topics."/chatter"]
throttle_rate = 0
queue_length = 10

[services."/add_two_ints"]
fragment_size = 0
`
