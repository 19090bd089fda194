// Package bridge carries the protocol over websockets: a gin server that
// upgrades clients into broker peers, and a client that dials it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wsbridge/internal/broker"
	"github.com/danmuck/wsbridge/internal/config"
	"github.com/danmuck/wsbridge/internal/observability"
	"github.com/danmuck/wsbridge/internal/protocol"
	"github.com/danmuck/wsbridge/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Server owns the HTTP surface, the broker and every open connection.
type Server struct {
	cfg      config.BridgeConfig
	sess     session.Config
	broker   *broker.Broker
	router   *gin.Engine
	upgrader websocket.Upgrader
	appeared time.Time
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewServer(cfg config.BridgeConfig) (*Server, error) {
	if err := config.ValidateBridgeConfig(cfg); err != nil {
		return nil, err
	}
	observability.RegisterMetrics()
	sess := config.SessionConfig(cfg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.Logger("http"), cfg.Encoding))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		sess:     sess,
		broker:   broker.New(sess),
		router:   r,
		appeared: time.Now(),
		logger:   observability.Logger("bridge"),
		conns:    make(map[string]*Conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Broker() *broker.Broker {
	return s.broker
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bridge listen failed (%s): %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every
// websocket and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().
		Str("name", s.cfg.Name).
		Str("addr", ln.Addr().String()).
		Str("encoding", s.cfg.Encoding).
		Bool("tls", s.cfg.TLSEnabled()).
		Msg("bridge serving")

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLSEnabled() {
			errCh <- srv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	go s.expireLoop(ctx)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	errs := s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.sess.WriteTimeout)
	defer cancel()
	errs = multierr.Append(errs, srv.Shutdown(shutdownCtx))
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = multierr.Append(errs, err)
	}
	s.logger.Info().Str("name", s.cfg.Name).Msg("bridge stopped")
	return errs
}

// Close closes every open websocket connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs error
	for _, c := range conns {
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}

func (s *Server) expireLoop(ctx context.Context) {
	interval := s.sess.CallTimeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := s.broker.ExpireCalls(now); n > 0 || err != nil {
				s.logger.Debug().Int("expired", n).Err(err).Msg("expired service calls")
			}
		}
	}
}

// handleWebsocket upgrades the request and serves the connection until it
// closes.
func (s *Server) handleWebsocket(c *gin.Context, encoding string) {
	codec, err := protocol.NewCodecByName(encoding)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(uuid.NewString(), ws, codec, s.sess, s.logger)
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()
	s.broker.Attach(conn)
	observability.ConnectionOpened(codec.Encoding())
	s.logger.Info().Str("conn", conn.ID()).Str("encoding", codec.Encoding()).Str("client_ip", c.ClientIP()).Msg("connection opened")

	conn.run(s.broker)

	if err := s.broker.Detach(conn); err != nil {
		s.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("detach reported failures")
	}
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()
	observability.ConnectionClosed(codec.Encoding())
	s.logger.Info().Str("conn", conn.ID()).Msg("connection closed")
}

// ConnectionIDs lists open connections in sorted order.
func (s *Server) ConnectionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range normalizeOrigins(s.cfg.CorsOrigins) {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
