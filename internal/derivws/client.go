// Package derivws is a JSON-over-WebSocket client for the trading platform API with
// request-id correlation and a broadcast stream for unsolicited messages.
package derivws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultRequestTimeout bounds every Call that does not get a matching response.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultEndpoint is the public platform WebSocket endpoint.
	DefaultEndpoint = "wss://ws.derivws.com/websockets/v3"

	readWait     = 60 * time.Second
	writeWait    = 5 * time.Second
	pingInterval = 20 * time.Second
)

var (
	// ErrClosed is returned by calls on (or pending on) a closed transport.
	ErrClosed = errors.New("derivws: connection closed")
	// ErrRequestTimeout is returned when no response with the request's id arrives in time.
	ErrRequestTimeout = errors.New("derivws: request timed out")
)

type listener struct {
	id int
	fn func(Response)
}

// Client owns one WebSocket. A single read goroutine delivers responses to pending
// calls by req_id and everything else to listeners, in arrival order.
type Client struct {
	conn    *websocket.Conn
	log     zerolog.Logger
	timeout time.Duration

	nextReqID atomic.Int64
	writeMu   sync.Mutex

	mu           sync.Mutex
	pending      map[int64]chan Response
	listeners    []listener
	nextListener int
	closed       bool
	err          error

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Endpoint appends the application id to a base WebSocket URL.
func Endpoint(base string, appID int) (string, error) {
	if base == "" {
		base = DefaultEndpoint
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if appID > 0 {
		q := u.Query()
		q.Set("app_id", strconv.Itoa(appID))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial opens a WebSocket to endpoint and starts the read loop.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection.
func NewClient(conn *websocket.Conn, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		log:     zerolog.Nop(),
		timeout: DefaultRequestTimeout,
		pending: make(map[int64]chan Response),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	go c.readLoop()
	go c.pingLoop()
	return c
}

// Call sends req with a fresh req_id and waits for the matching response. A response
// carrying an error payload is returned together with that *APIError.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	id := c.nextReqID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg := make(Request, len(req)+1)
	for k, v := range req {
		msg[k] = v
	}
	msg["req_id"] = id

	if err := c.write(msg); err != nil {
		c.dropPending(id)
		return Response{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-timer.C:
		c.dropPending(id)
		return Response{}, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, req.Type(), c.timeout)
	case <-ctx.Done():
		c.dropPending(id)
		return Response{}, ctx.Err()
	case <-c.done:
		return Response{}, ErrClosed
	}
}

// Send writes req without waiting for a response.
func (c *Client) Send(req Request) error {
	return c.write(req)
}

// OnMessage registers fn for every message that is not a response to a pending Call.
// fn runs on the read goroutine and must not block on this client. The returned
// function removes the listener.
func (c *Client) OnMessage(fn func(Response)) func() {
	c.mu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Done is closed once the transport is closed, locally or by the peer.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the transport closed, nil while open or after a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the transport. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		select {
		case <-c.done:
			// the read loop already tore the socket down
			return
		default:
		}
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.shutdown(nil)
	})
	return err
}

func (c *Client) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("websocket read failed")
			}
			_ = c.conn.Close()
			c.shutdown(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

		resp, err := ParseResponse(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to decode message")
			continue
		}
		c.dispatch(resp)
	}
}

func (c *Client) dispatch(resp Response) {
	c.mu.Lock()
	if resp.ReqID != 0 {
		if ch, ok := c.pending[resp.ReqID]; ok {
			delete(c.pending, resp.ReqID)
			c.mu.Unlock()
			ch <- resp
			return
		}
	}
	fns := make([]func(Response), len(c.listeners))
	for i, l := range c.listeners {
		fns[i] = l.fn
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(resp)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	c.pending = make(map[int64]chan Response)
	c.mu.Unlock()
	close(c.done)
}
