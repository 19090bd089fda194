package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestLogger logs plain requests as http_request and websocket upgrade
// attempts as ws_upgrade. Upgrade lines carry the requested encoding, with
// a bare /ws falling back to defaultEncoding.
func RequestLogger(logger zerolog.Logger, defaultEncoding string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := routeLabel(c)
		upgrade := isUpgradeRoute(route)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case upgrade:
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if !upgrade {
			event.Int("bytes", c.Writer.Size()).Msg("http_request")
			return
		}

		encoding := strings.ToLower(c.Param("encoding"))
		if encoding == "" {
			encoding = defaultEncoding
		}
		event.
			Str("encoding", encoding).
			Bool("upgraded", status == 101).
			Msg("ws_upgrade")
	}
}

// RequestMetricsMiddleware records request counts and latency. Upgrade
// handlers return when the connection closes, so a websocket is recorded
// once with its full lifetime.
func RequestMetricsMiddleware(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(server, c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}

// routeLabel prefers the registered route pattern so /ws/:encoding stays
// one label no matter what clients ask for.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}

func isUpgradeRoute(route string) bool {
	return route == "/ws" || strings.HasPrefix(route, "/ws/")
}
