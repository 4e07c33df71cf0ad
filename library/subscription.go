package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/time/rate"
)

// Subprotocol spoken on the duplex transport.
const graphQLTransportWS = "graphql-transport-ws"

// Message types of the graphql-transport-ws protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

const (
	defaultRetryAttempts = 5
	defaultRetryDelay    = time.Second
	defaultAckTimeout    = 10 * time.Second
)

// SubscriptionHandler receives the data of one subscription event, or the
// error that ended the subscription.
type SubscriptionHandler func(data json.RawMessage, err error)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newMessage(id, typ string, payload any) (wsMessage, error) {
	msg := wsMessage{ID: id, Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return msg, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

type subscription struct {
	id      string
	request GraphQLRequest
	handler SubscriptionHandler
}

// SubscriptionOptions tunes the reconnect behavior.
type SubscriptionOptions struct {
	// RetryAttempts bounds consecutive failed connection attempts before the
	// client gives up (default 5).
	RetryAttempts int
	// RetryDelay is the minimum spacing between attempts (default 1s).
	RetryDelay time.Duration
	// AckTimeout bounds the wait for connection_ack (default 10s).
	AckTimeout time.Duration
}

// SubscriptionClient keeps one persistent WebSocket to the GraphQL endpoint
// and multiplexes subscriptions over it. The session token is sent once, in
// the connection_init payload of every (re)connection.
type SubscriptionClient struct {
	url      string
	session  *Session
	dialer   *websocket.Dialer
	logger   *slog.Logger
	attempts int
	ack      time.Duration
	limiter  *rate.Limiter

	mu     sync.Mutex
	ctx    context.Context
	conn   *websocket.Conn
	subs   map[string]*subscription
	closed bool

	writeMu   sync.Mutex
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSubscriptionClient(url string, session *Session, opts SubscriptionOptions, logger *slog.Logger) *SubscriptionClient {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionClient{
		url:     url,
		session: session,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{graphQLTransportWS},
			HandshakeTimeout: opts.AckTimeout,
		},
		logger:   logger,
		attempts: opts.RetryAttempts,
		ack:      opts.AckTimeout,
		limiter:  rate.NewLimiter(rate.Every(opts.RetryDelay), 1),
		subs:     make(map[string]*subscription),
		done:     make(chan struct{}),
	}
}

// Start connects in the background without waiting for a first subscriber.
// Calling it more than once has no effect.
func (c *SubscriptionClient) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.ctx = ctx
		c.mu.Unlock()
		c.wg.Add(1)
		go c.run(ctx)
	})
}

// Connected reports whether the connection is currently acknowledged.
func (c *SubscriptionClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe registers a subscription. It is sent immediately when connected
// and otherwise as soon as a connection is acknowledged.
func (c *SubscriptionClient) Subscribe(req GraphQLRequest, handler SubscriptionHandler) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate subscription id: %w", err)
	}
	sub := &subscription{id: id, request: req, handler: handler}

	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: client closed", ErrSubscription)
	}
	c.subs[id] = sub
	// A nil conn means the next attach picks the subscription up.
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.sendSubscribe(conn, sub); err != nil {
			// The reader will notice the broken connection and resubscribe
			// after reconnecting.
			c.logger.Warn("subscribe send failed", "id", id, "error", err)
		}
	}
	return id, nil
}

// Unsubscribe stops delivery for id and tells the server.
func (c *SubscriptionClient) Unsubscribe(id string) error {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	conn := c.conn
	c.mu.Unlock()

	if !ok || conn == nil {
		return nil
	}
	msg, _ := newMessage(id, msgComplete, nil)
	return c.write(conn, msg)
}

// Close shuts the connection down and waits for the reader to exit.
func (c *SubscriptionClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		close(c.done)

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			conn.Close()
		}
	})
	c.wg.Wait()
	return nil
}

func (c *SubscriptionClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedLocked()
}

// closedLocked reports whether Close ran or the Start context ended. c.mu must
// be held.
func (c *SubscriptionClient) closedLocked() bool {
	return c.closed || (c.ctx != nil && c.ctx.Err() != nil)
}

func (c *SubscriptionClient) run(ctx context.Context) {
	defer c.wg.Done()

	// Unblock the reader when the caller's context ends.
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	failures := 0
	var lastErr error
	for {
		if c.isClosed() || ctx.Err() != nil {
			return
		}
		if failures > 0 {
			if failures > c.attempts {
				c.giveUp(lastErr)
				return
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		c.logger.Info("websocket connecting", "url", c.url, "attempt", failures+1)
		conn, err := c.connect(ctx)
		if err != nil {
			failures++
			lastErr = err
			c.logger.Error("websocket error", "error", err)
			continue
		}

		failures = 0
		pending, ok := c.attach(conn)
		if !ok {
			conn.Close()
			return
		}
		c.logger.Info("websocket connected", "url", c.url)
		c.resubscribe(conn, pending)

		err = c.read(conn)
		c.detach(conn)
		if c.isClosed() || ctx.Err() != nil {
			c.logger.Info("websocket disconnected")
			return
		}
		failures++
		lastErr = err
		c.logger.Warn("websocket disconnected", "error", err)
	}
}

// connect dials and completes the connection_init/connection_ack handshake.
func (c *SubscriptionClient) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	authorization := ""
	if token, ok := c.session.Token(); ok {
		authorization = "Bearer " + token
	}
	init, err := newMessage("", msgConnectionInit, map[string]string{"authorization": authorization})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send connection_init: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.ack))
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("await connection_ack: %w", err)
	}
	if ack.Type != msgConnectionAck {
		conn.Close()
		return nil, fmt.Errorf("await connection_ack: got %q", ack.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// attach publishes conn and returns the subscriptions registered so far. Both
// happen under one lock: a Subscribe that runs afterwards sees the connection
// and sends on its own, so no id is sent twice.
func (c *SubscriptionClient) attach(conn *websocket.Conn) ([]*subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return nil, false
	}
	c.conn = conn
	pending := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		pending = append(pending, sub)
	}
	return pending, true
}

func (c *SubscriptionClient) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *SubscriptionClient) resubscribe(conn *websocket.Conn, subs []*subscription) {
	for _, sub := range subs {
		if err := c.sendSubscribe(conn, sub); err != nil {
			c.logger.Warn("resubscribe failed", "id", sub.id, "error", err)
			return
		}
	}
}

func (c *SubscriptionClient) sendSubscribe(conn *websocket.Conn, sub *subscription) error {
	msg, err := newMessage(sub.id, msgSubscribe, sub.request)
	if err != nil {
		return err
	}
	return c.write(conn, msg)
}

func (c *SubscriptionClient) write(conn *websocket.Conn, msg wsMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (c *SubscriptionClient) lookup(id string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *SubscriptionClient) remove(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// read dispatches server messages until the connection fails.
func (c *SubscriptionClient) read(conn *websocket.Conn) error {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case msgNext:
			sub := c.lookup(msg.ID)
			if sub == nil {
				continue
			}
			var payload graphQLResponse
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				sub.handler(nil, fmt.Errorf("decode event: %w", err))
				continue
			}
			if len(payload.Errors) > 0 {
				sub.handler(payload.Data, payload.Errors)
				continue
			}
			sub.handler(payload.Data, nil)

		case msgError:
			sub := c.lookup(msg.ID)
			if sub == nil {
				continue
			}
			c.remove(msg.ID)
			var errs GraphQLErrors
			if err := json.Unmarshal(msg.Payload, &errs); err != nil || len(errs) == 0 {
				errs = GraphQLErrors{{Message: "subscription rejected by server"}}
			}
			sub.handler(nil, errs)

		case msgComplete:
			c.remove(msg.ID)

		case msgPing:
			pong, _ := newMessage("", msgPong, nil)
			if err := c.write(conn, pong); err != nil {
				return err
			}

		case msgPong:

		default:
			c.logger.Debug("ignoring websocket message", "type", msg.Type)
		}
	}
}

// giveUp ends every subscription after the retry budget is spent. Later
// Subscribe calls fail.
func (c *SubscriptionClient) giveUp(cause error) {
	if cause == nil {
		cause = errors.New("connection lost")
	}
	err := fmt.Errorf("%w: %d attempts failed: %v", ErrSubscription, c.attempts+1, cause)
	c.logger.Error("websocket giving up", "error", err)

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.closed = true
	c.mu.Unlock()

	for _, sub := range subs {
		sub.handler(nil, err)
	}
}
