package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/wsbridge/internal/protocol/serializer"
	"github.com/pelletier/go-toml/v2"
)

type BridgeConfig struct {
	Name            string   `toml:"name"`
	Addr            string   `toml:"addr"`
	Encoding        string   `toml:"encoding"`
	CorsOrigins     []string `toml:"cors_origins"`
	MaxMessageBytes uint64   `toml:"max_message_bytes"`
	SendQueue       int      `toml:"send_queue"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	PingInterval    string   `toml:"ping_interval"`
	CallTimeout     string   `toml:"call_timeout"`
	TLSCertFile     string   `toml:"tls_cert_file"`
	TLSKeyFile      string   `toml:"tls_key_file"`
}

// TLSEnabled reports whether the server should serve wss.
func (c BridgeConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" || c.TLSKeyFile != ""
}

// DefaultBridgeConfig is the configuration used when no file is given.
func DefaultBridgeConfig() BridgeConfig {
	cfg := BridgeConfig{}
	applyBridgeDefaults(&cfg)
	return cfg
}

func LoadBridgeConfig(path string) (BridgeConfig, error) {
	var cfg BridgeConfig
	if err := loadToml(path, &cfg); err != nil {
		return BridgeConfig{}, err
	}
	applyBridgeDefaults(&cfg)
	if err := ValidateBridgeConfig(cfg); err != nil {
		return BridgeConfig{}, err
	}
	return cfg, nil
}

// ParseBridgeConfig decodes TOML bytes with defaults and validation.
func ParseBridgeConfig(data []byte) (BridgeConfig, error) {
	var cfg BridgeConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return BridgeConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	applyBridgeDefaults(&cfg)
	if err := ValidateBridgeConfig(cfg); err != nil {
		return BridgeConfig{}, err
	}
	return cfg, nil
}

func applyBridgeDefaults(cfg *BridgeConfig) {
	if cfg.Name == "" {
		cfg.Name = "wsbridge"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = serializer.NameJSON
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateBridgeConfig(cfg BridgeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("bridge config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("bridge config missing addr")
	}
	if _, err := serializer.New(cfg.Encoding); err != nil {
		return fmt.Errorf("bridge config encoding invalid: %w", err)
	}
	if cfg.SendQueue < 0 {
		return fmt.Errorf("bridge config send_queue must not be negative")
	}
	durations := []struct {
		key   string
		value string
	}{
		{"read_timeout", cfg.ReadTimeout},
		{"write_timeout", cfg.WriteTimeout},
		{"ping_interval", cfg.PingInterval},
		{"call_timeout", cfg.CallTimeout},
	}
	for _, d := range durations {
		if _, err := parseDuration(d.value); err != nil {
			return fmt.Errorf("bridge config %s invalid: %w", d.key, err)
		}
	}
	if cfg.TLSEnabled() {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return fmt.Errorf("bridge config tls requires both tls_cert_file and tls_key_file")
		}
		for _, path := range []string{cfg.TLSCertFile, cfg.TLSKeyFile} {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("bridge config tls file unavailable: %w", err)
			}
		}
	}
	for i, origin := range cfg.CorsOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("cors_origins[%d] is empty", i)
		}
	}
	return nil
}

// parseDuration accepts an empty string as zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
