package session

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
	"browser-session/internal/infrastructure/browser/browsertest"
	"browser-session/internal/infrastructure/logger"

	"github.com/stretchr/testify/require"
)

// trace records the order of cross-component calls.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

type fakeBackend struct {
	trace *trace

	mu      sync.Mutex
	conf    *entity.AutomationConfiguration
	confErr error
	onFetch func()
	tokens  []string
	results []entity.CommandResult
	states  []entity.BrowserState
}

func (b *fakeBackend) FetchConfiguration(ctx context.Context, intentToken string) (*entity.AutomationConfiguration, error) {
	b.trace.add("configuration")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, intentToken)
	if b.onFetch != nil {
		b.onFetch()
	}
	return b.conf, b.confErr
}

func (b *fakeBackend) SendCommandResult(ctx context.Context, intentToken string, result entity.CommandResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, result)
	return nil
}

func (b *fakeBackend) SendBrowserState(ctx context.Context, intentToken string, state entity.BrowserState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, state)
	return nil
}

func (b *fakeBackend) resultsFor(id string) []entity.CommandResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []entity.CommandResult
	for _, r := range b.results {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

func (b *fakeBackend) stateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

type emitted struct {
	Event string
	Args  []any
}

type fakeConn struct {
	trace    *trace
	endpoint output.RealtimeEndpoint

	mu           sync.Mutex
	handlers     map[string]output.RealtimeHandler
	onDisconnect func(string)
	connectErr   error
	ack          bool
	connected    bool
	closed       bool
	emits        []emitted
}

func (c *fakeConn) On(event string, handler output.RealtimeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *fakeConn) OnDisconnect(handler func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = handler
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.trace.add("connect")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeConn) Emit(event string, args ...any) error {
	c.trace.add("emit:" + event)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{Event: event, Args: args})
	return nil
}

func (c *fakeConn) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	c.mu.Lock()
	c.emits = append(c.emits, emitted{Event: event, Args: args})
	ack := c.ack
	c.mu.Unlock()

	if ack {
		return []json.RawMessage{json.RawMessage(`true`)}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

// fire delivers a server event the way the socket read loop would. A string
// payload is sent as raw JSON.
func (c *fakeConn) fire(t *testing.T, event string, payload any) {
	t.Helper()
	var raw json.RawMessage
	switch p := payload.(type) {
	case string:
		raw = json.RawMessage(p)
	default:
		data, err := json.Marshal(p)
		require.NoError(t, err)
		raw = data
	}
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", event)
	h([]json.RawMessage{raw})
}

func (c *fakeConn) disconnect(reason string) {
	c.mu.Lock()
	h := c.onDisconnect
	c.mu.Unlock()
	if h != nil {
		h(reason)
	}
}

func (c *fakeConn) emitted(event string) []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emitted
	for _, e := range c.emits {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	trace      *trace
	connectErr error
	ack        bool

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) NewConn(endpoint output.RealtimeEndpoint) output.RealtimeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{
		trace:      d.trace,
		endpoint:   endpoint,
		handlers:   make(map[string]output.RealtimeHandler),
		connectErr: d.connectErr,
		ack:        d.ack,
	}
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeTokens struct {
	claims entity.IntentClaims
	err    error
}

func (f fakeTokens) Decode(string) (entity.IntentClaims, error) {
	return f.claims, f.err
}

type hostRecorder struct {
	mu        sync.Mutex
	completes []entity.ConnectionComplete
	errors    []entity.ConnectionError
	data      []entity.DataComplete
	prompts   []entity.PromptComplete
	exits     []string
}

func (h *hostRecorder) OnConnectionComplete(e entity.ConnectionComplete) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completes = append(h.completes, e)
}

func (h *hostRecorder) OnConnectionError(e entity.ConnectionError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, e)
}

func (h *hostRecorder) OnDataComplete(e entity.DataComplete) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, e)
}

func (h *hostRecorder) OnPromptComplete(e entity.PromptComplete) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = append(h.prompts, e)
}

func (h *hostRecorder) OnExit(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exits = append(h.exits, reason)
}

func (h *hostRecorder) counts() (completes, errs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.completes), len(h.errors)
}

var requestIDPattern = regexp.MustCompile(`const requestId = "([^"]+)"`)

// failMarker makes the fake surface report a thrown script.
const failMarker = "FAIL_SCRIPT"

// respond answers command scripts with {ok: true} and page-data scripts with
// an asynchronous bridge reply, the way a real page would.
func respond(b *browsertest.Browser) func(entity.Surface, string) (entity.Value, error) {
	return func(surface entity.Surface, script string) (entity.Value, error) {
		if m := requestIDPattern.FindStringSubmatch(script); m != nil {
			snapshot := entity.NewObject().
				Set("url", entity.String(b.CurrentURL(entity.SurfaceAutomation))).
				Set("html", entity.String("<html><body>ok</body></html>"))
			go b.Emit(entity.SurfaceEvent{
				Kind:    entity.SurfaceMessage,
				Surface: entity.SurfaceAutomation,
				Message: &entity.BridgeMessage{Type: entity.BridgePageData, RequestID: m[1], Value: entity.ObjectValue(snapshot)},
			})
			return entity.Null(), nil
		}
		if strings.Contains(script, failMarker) {
			return entity.ObjectValue(entity.NewObject().
				Set("ok", entity.Bool(false)).
				Set("error", entity.String("boom"))), nil
		}
		return entity.ObjectValue(entity.NewObject().
			Set("ok", entity.Bool(true)).
			Set("value", entity.String("done"))), nil
	}
}

type harness struct {
	trace   *trace
	browser *browsertest.Browser
	backend *fakeBackend
	dialer  *fakeDialer
	host    *hostRecorder
	session *Session
	conn    *fakeConn
}

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	cfg        Config
	claims     entity.IntentClaims
	noPageData bool
}

func withConfig(fn func(*Config)) harnessOption {
	return func(s *harnessSetup) { fn(&s.cfg) }
}

func withClaims(c entity.IntentClaims) harnessOption {
	return func(s *harnessSetup) { s.claims = c }
}

// withoutPageDataReplies leaves page-data requests unanswered so a result
// stays in flight until the collector gives up.
func withoutPageDataReplies() harnessOption {
	return func(s *harnessSetup) { s.noPageData = true }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Transport.BaseURL = "http://backend.test"
	cfg.Transport.AgentName = "go-test"
	cfg.Transport.ModalExitTimeout = 30 * time.Millisecond
	cfg.Executor.SuccessPageURL = "https://app.example/success"
	cfg.Executor.ErrorPageURL = "https://app.example/error"
	cfg.Executor.ReinjectDelay = 20 * time.Millisecond
	cfg.PageData.Timeout = 200 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	setup := harnessSetup{cfg: testConfig()}
	for _, opt := range opts {
		opt(&setup)
	}

	tr := &trace{}
	h := &harness{
		trace:   tr,
		browser: browsertest.New(),
		backend: &fakeBackend{trace: tr, conf: &entity.AutomationConfiguration{
			Integration:         entity.Integration{URL: "https://bank.example/login", Slug: "bank"},
			CookieDomains:       []string{".bank.example"},
			AutomationUserAgent: "session-agent/1.0",
		}},
		dialer: &fakeDialer{trace: tr},
		host:   &hostRecorder{},
	}
	h.browser.OnScript = respond(h.browser)
	if setup.noPageData {
		answer := h.browser.OnScript
		h.browser.OnScript = func(surface entity.Surface, script string) (entity.Value, error) {
			if requestIDPattern.MatchString(script) {
				return entity.Null(), nil
			}
			return answer(surface, script)
		}
	}
	return h.open(t, setup)
}

func (h *harness) open(t *testing.T, setup harnessSetup) *harness {
	t.Helper()
	opener := NewOpener(h.browser, h.backend, h.dialer, fakeTokens{claims: setup.claims}, logger.NewNop(), setup.cfg)
	s, err := opener.Open(context.Background(), "intent-token", h.host)
	require.NoError(t, err)
	h.session = s.(*Session)
	h.conn = h.dialer.last()
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) command(t *testing.T, payload string) {
	t.Helper()
	h.conn.fire(t, eventCommand, payload)
}

func (h *harness) navigated(url string) {
	h.browser.Emit(entity.SurfaceEvent{Kind: entity.SurfaceNavigationFinished, Surface: entity.SurfaceAutomation, URL: url})
}

func (h *harness) navigationStarted(url string) {
	h.browser.Emit(entity.SurfaceEvent{Kind: entity.SurfaceNavigationStarted, Surface: entity.SurfaceAutomation, URL: url})
}

func (h *harness) waitMessage(commandID string, value bool) {
	h.browser.Emit(entity.SurfaceEvent{
		Kind:    entity.SurfaceMessage,
		Surface: entity.SurfaceAutomation,
		Message: &entity.BridgeMessage{Type: entity.BridgeWait, CommandID: commandID, Value: entity.Bool(value)},
	})
}

// settle waits until every task posted so far has run.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.queue.Do(context.Background(), func() {}))
}
