package observability

import (
	"github.com/danmuck/wsbridge/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logging profile and tags the global
// logger with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Logger returns the global logger scoped to component.
func Logger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
