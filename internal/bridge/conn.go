package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wsbridge/internal/observability"
	"github.com/danmuck/wsbridge/internal/protocol"
	"github.com/danmuck/wsbridge/internal/protocol/frame"
	"github.com/danmuck/wsbridge/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrSendQueueFull = errors.New("bridge: send queue full")
	ErrConnClosed    = errors.New("bridge: connection closed")
)

// Conn is one websocket connection speaking a single wire format. Inbound
// frames are decoded into an Endpoint with the Conn as handle; outbound
// messages go through a bounded queue drained by the write pump.
type Conn struct {
	id    string
	ws    *websocket.Conn
	codec *protocol.Codec
	cfg   session.Config

	send      chan []byte
	queued    atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	logger zerolog.Logger
}

func newConn(id string, ws *websocket.Conn, codec *protocol.Codec, cfg session.Config, logger zerolog.Logger) *Conn {
	cfg = cfg.WithDefaults()
	return &Conn{
		id:     id,
		ws:     ws,
		codec:  codec,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendQueue),
		done:   make(chan struct{}),
		logger: logger.With().Str("conn", id).Str("encoding", codec.Encoding()).Logger(),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Codec() *protocol.Codec {
	return c.codec
}

// Send queues data for the write pump without blocking.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.queued.Add(1)
	select {
	case c.send <- data:
		return nil
	default:
		c.queued.Add(-1)
		return ErrSendQueueFull
	}
}

// Flush waits until every queued message has been written or dropped.
func (c *Conn) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for c.queued.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrConnClosed
		case <-ticker.C:
		}
	}
	return nil
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a normal close frame and closes the socket. It is safe to
// call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// run pumps the connection until it closes. It blocks.
func (c *Conn) run(ep protocol.Endpoint) {
	go c.writePump()
	c.readPump(ep)
}

func (c *Conn) readPump(ep protocol.Endpoint) {
	defer c.Close()

	if c.cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(int64(c.cfg.MaxMessageBytes))
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		f, err := frame.ReadFrame(c.ws, c.cfg.Limits())
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		if err := c.codec.InterpretFrame(f, ep, c); err != nil {
			kind := protocol.ErrorKind(err)
			observability.RecordProtocolError(c.codec.Encoding(), kind)
			c.logger.Warn().Err(err).Str("kind", kind).Int("bytes", len(f.Payload)).Msg("message rejected")
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	kind := c.codec.FrameKind()
	limits := c.cfg.Limits()
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := frame.WriteFrame(c.ws, frame.Frame{Kind: kind, Payload: data}, limits)
			c.queued.Add(-1)
			if err != nil {
				if errors.Is(err, frame.ErrPayloadTooLarge) {
					c.logger.Warn().Int("bytes", len(data)).Msg("outbound message over limit dropped")
					continue
				}
				c.logger.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}
