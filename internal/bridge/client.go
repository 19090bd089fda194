package bridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/observability"
	"github.com/danmuck/wsbridge/internal/protocol"
	"github.com/danmuck/wsbridge/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrClientClosed = errors.New("bridge: client closed")

// ClientConfig configures Dial.
type ClientConfig struct {
	URL             string
	Encoding        string
	ConnectAttempts int

	// TLSCAFile is a PEM bundle trusted for wss URLs in place of the
	// system roots.
	TLSCAFile string
	Session   session.Config
}

// MessageHandler receives publications for one subscription.
type MessageHandler func(topic string, msg *message.Message)

// ServiceHandler answers one service request. ok=false reports failure.
type ServiceHandler func(args *message.Message) (resp *message.Message, ok bool)

// Client is a bridge peer over one websocket. It implements
// protocol.Endpoint for the messages the bridge sends back.
type Client struct {
	conn   *Conn
	logger zerolog.Logger

	mu       sync.Mutex
	subs     map[string]map[string]MessageHandler
	services map[string]ServiceHandler
	pending  map[string]chan *message.Message
	closed   bool
}

var _ protocol.Endpoint = (*Client)(nil)

// Dial connects to the bridge, retrying with backoff up to
// cfg.ConnectAttempts times.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	codec, err := protocol.NewCodecByName(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	sess := cfg.Session.WithDefaults()
	tlsCfg, err := clientTLSConfig(cfg.TLSCAFile)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: sess.WriteTimeout,
		TLSClientConfig:  tlsCfg,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var ws *websocket.Conn
	err = session.Retry(ctx, sess.Backoff, cfg.ConnectAttempts, rng, func(attempt int) error {
		conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		ws = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bridge dial failed (%s): %w", cfg.URL, err)
	}

	logger := observability.Logger("client")
	c := &Client{
		conn:     newConn("client-"+uuid.NewString(), ws, codec, sess, logger),
		logger:   logger,
		subs:     make(map[string]map[string]MessageHandler),
		services: make(map[string]ServiceHandler),
		pending:  make(map[string]chan *message.Message),
	}
	go func() {
		c.conn.run(c)
		c.failPending()
	}()
	c.logger.Info().Str("url", cfg.URL).Str("encoding", codec.Encoding()).Msg("connected")
	return c, nil
}

func clientTLSConfig(caPath string) (*tls.Config, error) {
	caPath = strings.TrimSpace(caPath)
	if caPath == "" {
		return nil, nil
	}
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("bridge: parse tls ca bundle: %s", caPath)
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}, nil
}

func (c *Client) Codec() *protocol.Codec {
	return c.conn.Codec()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

func (c *Client) Close() error {
	err := c.conn.Close()
	c.failPending()
	return err
}

// Flush waits for queued messages to reach the socket.
func (c *Client) Flush(ctx context.Context) error {
	return c.conn.Flush(ctx)
}

// SendRaw queues already-encoded bytes.
func (c *Client) SendRaw(data []byte) error {
	return c.conn.Send(data)
}

func (c *Client) send(data []byte, err error) error {
	if err != nil {
		return err
	}
	return c.conn.Send(data)
}

func (c *Client) Publish(topic, msgType string, msg *message.Message) error {
	return c.send(c.Codec().EncodePublication(topic, msgType, "", msg))
}

// Subscribe registers handler for topic and returns the subscription id.
func (c *Client) Subscribe(topic, msgType string, cfg protocol.OperationConfig, handler MessageHandler) (string, error) {
	id := "subscribe:" + topic + ":" + uuid.NewString()
	c.mu.Lock()
	handlers, ok := c.subs[topic]
	if !ok {
		handlers = make(map[string]MessageHandler)
		c.subs[topic] = handlers
	}
	handlers[id] = handler
	c.mu.Unlock()

	if err := c.send(c.Codec().EncodeSubscribe(topic, msgType, id, cfg)); err != nil {
		c.dropSubscription(topic, id)
		return "", err
	}
	return id, nil
}

func (c *Client) Unsubscribe(topic, id string) error {
	c.dropSubscription(topic, id)
	return c.send(c.Codec().EncodeUnsubscribe(topic, id))
}

func (c *Client) dropSubscription(topic, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs[topic], id)
	if len(c.subs[topic]) == 0 {
		delete(c.subs, topic)
	}
}

// Advertise announces topic and returns the advertisement id.
func (c *Client) Advertise(topic, msgType string, cfg protocol.OperationConfig) (string, error) {
	id := "advertise:" + topic + ":" + uuid.NewString()
	if err := c.send(c.Codec().EncodeAdvertise(topic, msgType, id, cfg)); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) Unadvertise(topic, id string) error {
	return c.send(c.Codec().EncodeUnadvertise(topic, id))
}

// AdvertiseService offers service and answers requests with handler.
func (c *Client) AdvertiseService(service, serviceType string, cfg protocol.OperationConfig, handler ServiceHandler) error {
	c.mu.Lock()
	c.services[service] = handler
	c.mu.Unlock()
	return c.send(c.Codec().EncodeAdvertiseService(service, serviceType, cfg))
}

// CallService sends a request and waits for the response values. The
// bridge answers failed calls with empty values.
func (c *Client) CallService(ctx context.Context, service, serviceType string, args *message.Message, cfg protocol.OperationConfig) (*message.Message, error) {
	id := "call_service:" + service + ":" + uuid.NewString()
	ch := make(chan *message.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	if err := c.send(c.Codec().EncodeCallService(service, serviceType, args, id, cfg)); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case values, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		return values, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) ReceivePublication(topic string, msg *message.Message, _ protocol.Handle) {
	c.mu.Lock()
	handlers := make([]MessageHandler, 0, len(c.subs[topic]))
	for _, h := range c.subs[topic] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(topic, msg)
	}
}

func (c *Client) ReceiveServiceRequest(service string, args *message.Message, id string, _ protocol.Handle) {
	c.mu.Lock()
	handler, ok := c.services[service]
	c.mu.Unlock()

	go func() {
		var resp *message.Message
		result := false
		if ok {
			resp, result = handler(args)
		}
		if resp == nil {
			resp = message.New("")
		}
		if err := c.send(c.Codec().EncodeServiceResponse(service, "", id, resp, result)); err != nil {
			c.logger.Warn().Err(err).Str("service", service).Msg("service response not sent")
		}
	}()
}

func (c *Client) ReceiveServiceResponse(service string, values *message.Message, id string, _ protocol.Handle) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("service", service).Str("id", id).Msg("response for unknown call")
		return
	}
	ch <- values
}

func (c *Client) ReceiveTopicAdvertisement(topic, msgType, id string, _ protocol.Handle) {
	c.logger.Debug().Str("topic", topic).Msg("ignoring advertise from bridge")
}

func (c *Client) ReceiveTopicUnadvertisement(topic, id string, _ protocol.Handle) {
	c.logger.Debug().Str("topic", topic).Msg("ignoring unadvertise from bridge")
}

func (c *Client) ReceiveSubscribeRequest(topic, msgType, id string, _ protocol.Handle) {
	c.logger.Debug().Str("topic", topic).Msg("ignoring subscribe from bridge")
}

func (c *Client) ReceiveUnsubscribeRequest(topic, id string, _ protocol.Handle) {
	c.logger.Debug().Str("topic", topic).Msg("ignoring unsubscribe from bridge")
}

func (c *Client) ReceiveServiceAdvertisement(service, serviceType string, _ protocol.Handle) {
	c.logger.Debug().Str("service", service).Msg("ignoring advertise_service from bridge")
}

func (c *Client) ReceiveServiceUnadvertisement(service, serviceType string, _ protocol.Handle) {
	c.logger.Debug().Str("service", service).Msg("ignoring unadvertise_service from bridge")
}
