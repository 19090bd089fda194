package config

import (
	"github.com/danmuck/wsbridge/internal/protocol/session"
)

// SessionConfig converts the file settings to connection settings. Unset
// values take the session defaults. cfg must have passed validation.
func SessionConfig(cfg BridgeConfig) session.Config {
	out := session.Config{
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendQueue:       cfg.SendQueue,
	}
	out.ReadTimeout, _ = parseDuration(cfg.ReadTimeout)
	out.WriteTimeout, _ = parseDuration(cfg.WriteTimeout)
	out.PingInterval, _ = parseDuration(cfg.PingInterval)
	out.CallTimeout, _ = parseDuration(cfg.CallTimeout)
	return out.WithDefaults()
}
