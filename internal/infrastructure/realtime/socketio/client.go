// Package socketio adapts the zishang520 Socket.IO v4 client to the realtime
// port. Only the websocket transport is used and reconnection is left off: a
// dropped session is reported and the caller decides what happens next.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"browser-session/internal/application/port/output"

	"github.com/zishang520/engine.io/v2/types"
	sio "github.com/zishang520/socket.io-client-go/socket"
)

var (
	_ output.RealtimeConn   = (*Client)(nil)
	_ output.RealtimeDialer = (*Dialer)(nil)
)

var (
	ErrNotConnected     = errors.New("socket is not connected")
	ErrConnectRejected  = errors.New("namespace connection rejected")
	ErrClosedBeforeAck  = errors.New("socket closed before acknowledgement")
	errAlreadyConnected = errors.New("socket already connected")
)

const (
	defaultPath             = "/socket.io"
	defaultHandshakeTimeout = 10 * time.Second

	reasonClientDisconnect = "io client disconnect"
)

type Options struct {
	Path             string
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           output.LoggerPort
}

func DefaultOptions() Options {
	return Options{
		Path:             defaultPath,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
}

type Dialer struct {
	opts Options
}

func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

func (d *Dialer) NewConn(endpoint output.RealtimeEndpoint) output.RealtimeConn {
	return NewClient(endpoint, d.opts)
}

type Client struct {
	endpoint  output.RealtimeEndpoint
	namespace string
	opts      Options

	mu           sync.Mutex
	socket       *sio.Socket
	handlers     map[string]output.RealtimeHandler
	onDisconnect func(reason string)
	started      bool
	connected    bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(endpoint output.RealtimeEndpoint, opts Options) *Client {
	if opts.Path == "" {
		opts.Path = defaultPath
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Client{
		endpoint:  endpoint,
		namespace: normalizeNamespace(endpoint.Namespace),
		opts:      opts,
		handlers:  make(map[string]output.RealtimeHandler),
		done:      make(chan struct{}),
	}
}

func (c *Client) On(event string, handler output.RealtimeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *Client) OnDisconnect(handler func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = handler
}

// Connect opens the engine connection and joins the namespace. It returns
// once the server accepted or rejected the namespace.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errAlreadyConnected
	}
	c.started = true
	c.mu.Unlock()

	base, err := baseURL(c.endpoint.BaseURL)
	if err != nil {
		return err
	}

	opts := sio.DefaultOptions()
	opts.SetPath(c.opts.Path)
	opts.SetQuery(cloneQuery(c.endpoint.Query))
	opts.SetTransports(types.NewSet(sio.WebSocket))
	opts.SetReconnection(false)
	opts.SetAutoConnect(false)
	opts.SetForceNew(true)
	opts.SetTimeout(c.opts.HandshakeTimeout)
	if c.opts.Header != nil {
		opts.SetExtraHeaders(c.opts.Header)
	}

	manager := sio.NewManager(base, opts)
	socket := manager.Socket(c.namespace, opts)

	outcome := make(chan error, 1)
	report := func(err error) {
		select {
		case outcome <- err:
		default:
		}
	}

	socket.On("connect", func(...any) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		report(nil)
	})
	socket.On("connect_error", func(args ...any) {
		report(connectError(args))
	})
	socket.On("disconnect", func(args ...any) {
		reason := "transport close"
		if len(args) > 0 {
			if s, ok := args[0].(string); ok && s != "" {
				reason = s
			}
		}
		c.disconnected(reason)
	})
	socket.OnAny(func(args ...any) {
		c.dispatch(args)
	})

	c.mu.Lock()
	c.socket = socket
	c.mu.Unlock()

	socket.Connect()

	select {
	case err := <-outcome:
		if err != nil {
			socket.Disconnect()
			return err
		}
		c.logDebug("Socket connected", "namespace", c.namespace, "sid", socket.Id())
		return nil
	case <-ctx.Done():
		socket.Disconnect()
		return ctx.Err()
	case <-c.done:
		return ErrNotConnected
	}
}

func (c *Client) dispatch(args []any) {
	if len(args) == 0 {
		return
	}
	name, ok := args[0].(string)
	if !ok {
		return
	}

	c.mu.Lock()
	handler := c.handlers[name]
	c.mu.Unlock()
	if handler == nil {
		c.logDebug("No handler for socket event", "event", name)
		return
	}

	raw, err := rawArgs(args[1:])
	if err != nil {
		c.logDebug("Dropping socket event", "event", name, "error", err)
		return
	}
	handler(raw)
}

func (c *Client) Emit(event string, args ...any) error {
	socket, err := c.live()
	if err != nil {
		return err
	}
	return socket.Emit(event, args...)
}

// EmitWithAck emits event and waits for the server's acknowledgement.
func (c *Client) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	socket, err := c.live()
	if err != nil {
		return nil, err
	}

	type reply struct {
		args []json.RawMessage
		err  error
	}
	replies := make(chan reply, 1)
	socket.EmitWithAck(event, args...)(func(data []any, ackErr error) {
		if ackErr != nil {
			replies <- reply{err: fmt.Errorf("%w: %v", ErrClosedBeforeAck, ackErr)}
			return
		}
		raw, err := rawArgs(data)
		replies <- reply{args: raw, err: err}
	})

	select {
	case r := <-replies:
		return r.args, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosedBeforeAck
	}
}

// Close leaves the namespace and closes the socket. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()

	if socket != nil {
		socket.Disconnect()
	}
	c.disconnected(reasonClientDisconnect)
	return nil
}

func (c *Client) live() (*sio.Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.socket == nil {
		return nil, ErrNotConnected
	}
	return c.socket, nil
}

func (c *Client) disconnected(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.connected = false
		handler := c.onDisconnect
		c.mu.Unlock()

		close(c.done)
		if wasConnected {
			c.logDebug("Socket disconnected", "namespace", c.namespace, "reason", reason)
			if handler != nil {
				handler(reason)
			}
		}
	})
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug(msg, args...)
	}
}

// rawArgs re-encodes decoded event arguments. Ack callbacks the server may
// attach are skipped.
func rawArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		if _, isFunc := a.(func([]any, error)); isFunc {
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode event argument: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

func connectError(args []any) error {
	msg := "unknown error"
	if len(args) > 0 {
		switch v := args[0].(type) {
		case error:
			msg = v.Error()
		case string:
			msg = v
		}
	}
	return fmt.Errorf("%w: %s", ErrConnectRejected, redactMessage(msg))
}

// baseURL keeps scheme and host only; the namespace and query travel through
// the client options.
func baseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse socket base url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String(), nil
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// redactMessage drops any query string so intent tokens stay out of errors.
func redactMessage(msg string) string {
	if i := strings.IndexByte(msg, '?'); i >= 0 {
		if j := strings.IndexAny(msg[i:], " \"'"); j >= 0 {
			return msg[:i] + msg[i+j:]
		}
		return msg[:i]
	}
	return msg
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return "/"
	}
	if !strings.HasPrefix(ns, "/") {
		return "/" + ns
	}
	return ns
}
