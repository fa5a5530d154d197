package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
)

// Inbound realtime events.
const (
	eventConnected         = "connected"
	eventConnection        = "connection"
	eventCommand           = "command"
	eventError             = "error"
	eventConnectionSuccess = "CONNECTION_SUCCESS"
	eventConnectionError   = "CONNECTION_ERROR"
	eventDataComplete      = "DATA_COMPLETE"
	eventPromptComplete    = "PROMPT_COMPLETE"
)

// Outbound realtime events.
const (
	eventJoin      = "join"
	eventModalExit = "modalExit"
)

const (
	defaultNamespace        = "/automation"
	defaultAgentName        = "go-session"
	defaultModalExitTimeout = time.Second

	genericConnectionError = "Connection error"
)

var errNoBaseURL = errors.New("socket base url is not configured")

type TransportConfig struct {
	BaseURL          string
	Namespace        string
	AgentName        string
	ModalExitTimeout time.Duration
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Namespace:        defaultNamespace,
		AgentName:        defaultAgentName,
		ModalExitTimeout: defaultModalExitTimeout,
	}
}

// transportHandlers receive translated realtime events. They run on the
// socket's read goroutine and must not block for long.
type transportHandlers struct {
	OnConfiguration  func(*entity.AutomationConfiguration)
	OnConnection     func(entity.ConnectionEvent)
	OnCommand        func(json.RawMessage)
	OnDataComplete   func(entity.DataComplete)
	OnPromptComplete func(entity.PromptComplete)
	// OnError is invoked at most once per transport.
	OnError func(message string)
}

type joinPayload struct {
	IntentToken string `json:"intentToken"`
	AgentName   string `json:"agentName"`
}

type modalExitPayload struct {
	Timestamp   int64  `json:"timestamp"`
	IntentToken string `json:"intentToken"`
}

// transport owns the realtime connection of one session.
type transport struct {
	backend output.BackendPort
	dialer  output.RealtimeDialer
	logger  output.LoggerPort
	cfg     TransportConfig

	mu       sync.Mutex
	token    string
	conn     output.RealtimeConn
	handlers transportHandlers
	closed   bool
	errOnce  sync.Once
}

func newTransport(backend output.BackendPort, dialer output.RealtimeDialer, logger output.LoggerPort, cfg TransportConfig) *transport {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.AgentName == "" {
		cfg.AgentName = defaultAgentName
	}
	if cfg.ModalExitTimeout <= 0 {
		cfg.ModalExitTimeout = defaultModalExitTimeout
	}
	return &transport{
		backend: backend,
		dialer:  dialer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Connect fetches the configuration, then dials the realtime channel and
// joins it. A failed configuration fetch is logged and does not stop the
// connection. Calling Connect twice is a caller error.
func (t *transport) Connect(ctx context.Context, token string, h transportHandlers) error {
	if t.cfg.BaseURL == "" {
		return errNoBaseURL
	}

	conf, err := t.backend.FetchConfiguration(ctx, token)
	if err != nil {
		t.logger.Warn("Configuration fetch failed, connecting without it", "error", err)
	} else if conf == nil || conf.Integration.URL == "" {
		t.logger.Warn("Configuration has no integration url")
	}
	if conf != nil && h.OnConfiguration != nil {
		h.OnConfiguration(conf)
	}

	conn := t.dialer.NewConn(output.RealtimeEndpoint{
		BaseURL:   t.cfg.BaseURL,
		Namespace: t.cfg.Namespace,
		Query: url.Values{
			"intentToken": {token},
			"agentName":   {t.cfg.AgentName},
		},
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.token = token
	t.conn = conn
	t.handlers = h
	t.mu.Unlock()

	t.register(conn)

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime channel: %w", err)
	}
	if err := conn.Emit(eventJoin, joinPayload{IntentToken: token, AgentName: t.cfg.AgentName}); err != nil {
		return fmt.Errorf("join realtime channel: %w", err)
	}
	t.logger.Info("Realtime channel joined", "namespace", t.cfg.Namespace)
	return nil
}

func (t *transport) register(conn output.RealtimeConn) {
	conn.On(eventConnected, func(args []json.RawMessage) {
		t.logger.Debug("Realtime channel acknowledged join")
	})

	conn.On(eventConnection, func(args []json.RawMessage) {
		var ev entity.ConnectionEvent
		if err := decodeFirst(args, &ev); err != nil {
			t.logger.Warn("Dropping connection event", "error", err)
			return
		}
		if h := t.handlers.OnConnection; h != nil {
			h(ev)
		}
	})

	conn.On(eventCommand, func(args []json.RawMessage) {
		if len(args) == 0 {
			t.logger.Warn("Dropping command event without payload")
			return
		}
		if h := t.handlers.OnCommand; h != nil {
			h(args[0])
		}
	})

	conn.On(eventError, func(args []json.RawMessage) {
		msg := genericConnectionError
		var s string
		if err := decodeFirst(args, &s); err == nil && s != "" {
			msg = s
		}
		t.logger.Warn("Realtime channel reported an error", "error", msg)
		t.fail(msg)
	})

	// The done command is authoritative for the outcome. These two events are
	// only logged.
	for _, name := range []string{eventConnectionSuccess, eventConnectionError} {
		name := name
		conn.On(name, func(args []json.RawMessage) {
			t.logger.Info("Advisory realtime event", "event", name, "payload", firstString(args))
		})
	}

	conn.On(eventDataComplete, func(args []json.RawMessage) {
		var payload struct {
			Data    entity.Value `json:"data"`
			Prompts entity.Value `json:"prompts"`
		}
		if err := decodeFirst(args, &payload); err != nil {
			t.logger.Warn("Dropping DATA_COMPLETE event", "error", err)
			return
		}
		if h := t.handlers.OnDataComplete; h != nil {
			h(entity.DataComplete{Data: payload.Data, Prompts: payload.Prompts})
		}
	})

	conn.On(eventPromptComplete, func(args []json.RawMessage) {
		var payload struct {
			Key      string       `json:"key"`
			Value    entity.Value `json:"value"`
			Response entity.Value `json:"response"`
		}
		if err := decodeFirst(args, &payload); err != nil {
			t.logger.Warn("Dropping PROMPT_COMPLETE event", "error", err)
			return
		}
		if h := t.handlers.OnPromptComplete; h != nil {
			h(entity.PromptComplete{Key: payload.Key, Value: payload.Value, Response: payload.Response})
		}
	})

	conn.OnDisconnect(func(reason string) {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		t.logger.Info("Realtime channel disconnected", "reason", reason)
		if reason == "transport error" {
			t.fail(genericConnectionError)
		}
	})
}

// fail reports a transport error to the handlers once.
func (t *transport) fail(message string) {
	t.errOnce.Do(func() {
		if h := t.handlers.OnError; h != nil {
			h(message)
		}
	})
}

// EmitModalExit tells the backend the user left the session. It returns on
// acknowledgement or after the configured timeout, whichever is first.
func (t *transport) EmitModalExit(ctx context.Context) {
	t.mu.Lock()
	conn, token, closed := t.conn, t.token, t.closed
	t.mu.Unlock()
	if conn == nil || closed {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ModalExitTimeout)
	defer cancel()

	payload := modalExitPayload{Timestamp: time.Now().UnixMilli(), IntentToken: token}
	if _, err := conn.EmitWithAck(ctx, eventModalExit, payload); err != nil {
		t.logger.Debug("Modal exit not acknowledged", "error", err)
		return
	}
	t.logger.Debug("Modal exit acknowledged")
}

// Disconnect closes the socket. Safe to call repeatedly.
func (t *transport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			t.logger.Debug("Realtime channel close failed", "error", err)
		}
	}
}

func decodeFirst(args []json.RawMessage, v any) error {
	if len(args) == 0 {
		return errors.New("event has no payload")
	}
	if err := json.Unmarshal(args[0], v); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}

func firstString(args []json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	return string(args[0])
}
