package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wsbridge/internal/bridge"
	"github.com/danmuck/wsbridge/internal/protocol"
)

// client.toml key mapping to dial settings and per-name operation options.
type fileConfig struct {
	URL             string                    `toml:"url"`
	Encoding        string                    `toml:"encoding"`
	ConnectAttempts int                       `toml:"connect_attempts"`
	TLSCAFile       string                    `toml:"tls_ca_file"`
	Topics          map[string]map[string]any `toml:"topics"`
	Services        map[string]map[string]any `toml:"services"`
}

type clientConfig struct {
	Dial     bridge.ClientConfig
	Topics   map[string]protocol.OperationConfig
	Services map[string]protocol.OperationConfig
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Dial: bridge.ClientConfig{
			URL:             "ws://localhost:9090/ws",
			Encoding:        "json",
			ConnectAttempts: 5,
		},
		Topics:   map[string]protocol.OperationConfig{},
		Services: map[string]protocol.OperationConfig{},
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("url") {
		if url := strings.TrimSpace(raw.URL); url != "" {
			cfg.Dial.URL = url
		}
	}

	if meta.IsDefined("encoding") {
		cfg.Dial.Encoding = strings.ToLower(strings.TrimSpace(raw.Encoding))
		if _, err := protocol.NewCodecByName(cfg.Dial.Encoding); err != nil {
			return clientConfig{}, fmt.Errorf("parse encoding: %w", err)
		}
	}

	if meta.IsDefined("connect_attempts") {
		if raw.ConnectAttempts < 1 {
			return clientConfig{}, fmt.Errorf("connect_attempts must be positive: %d", raw.ConnectAttempts)
		}
		cfg.Dial.ConnectAttempts = raw.ConnectAttempts
	}

	if meta.IsDefined("tls_ca_file") {
		cfg.Dial.TLSCAFile = strings.TrimSpace(raw.TLSCAFile)
	}

	for name, opts := range raw.Topics {
		cfg.Topics[name] = protocol.OperationConfig(opts)
	}
	for name, opts := range raw.Services {
		cfg.Services[name] = protocol.OperationConfig(opts)
	}
	return cfg, nil
}

// topicOptions returns the options configured for topic, or nil.
func (c clientConfig) topicOptions(topic string) protocol.OperationConfig {
	return c.Topics[topic]
}

func (c clientConfig) serviceOptions(service string) protocol.OperationConfig {
	return c.Services[service]
}
