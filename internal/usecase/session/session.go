// Package session runs one remote-controlled browser session: the realtime
// transport, the command state machine and the background telemetry.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"browser-session/internal/application/port/input"
	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
	"browser-session/internal/usecase/pagedata"
	"browser-session/internal/usecase/telemetry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	_ input.SessionPort   = (*Session)(nil)
	_ input.SessionOpener = (*Opener)(nil)
)

var ErrEmptyToken = errors.New("intent token is empty")

type Config struct {
	Transport TransportConfig
	Executor  ExecutorConfig
	PageData  pagedata.Config
	Telemetry telemetry.Config
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Transport: DefaultTransportConfig(),
		Executor:  DefaultExecutorConfig(),
		PageData:  pagedata.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		QueueSize: defaultQueueSize,
	}
}

// Opener creates sessions that share one browser, backend and dialer.
type Opener struct {
	browser output.BrowserPort
	backend output.BackendPort
	dialer  output.RealtimeDialer
	tokens  output.TokenDecoder
	logger  output.LoggerPort
	cfg     Config
}

func NewOpener(
	browser output.BrowserPort,
	backend output.BackendPort,
	dialer output.RealtimeDialer,
	tokens output.TokenDecoder,
	logger output.LoggerPort,
	cfg Config,
) *Opener {
	return &Opener{
		browser: browser,
		backend: backend,
		dialer:  dialer,
		tokens:  tokens,
		logger:  logger,
		cfg:     cfg,
	}
}

type Session struct {
	id        string
	logger    output.LoggerPort
	host      output.HostCallbacks
	browser   output.BrowserPort
	transport *transport
	queue     *queue
	exec      *executor
	collector *pagedata.Collector

	cancel      context.CancelFunc
	group       *errgroup.Group
	unsubscribe func()

	errOnce   sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// Open connects a session for intentToken. A transport failure does not
// fail Open: it is reported once through host.OnConnectionError and the
// session stays inert until closed.
func (o *Opener) Open(ctx context.Context, intentToken string, host output.HostCallbacks) (input.SessionPort, error) {
	if intentToken == "" {
		return nil, ErrEmptyToken
	}
	if host == nil {
		host = output.HostFuncs{}
	}

	claims, err := o.tokens.Decode(intentToken)
	if err != nil {
		o.logger.Warn("Intent token claims unreadable, using defaults", "error", err)
	}

	id := claims.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	logger := o.logger.WithFields(map[string]any{"sessionId": id, "component": "session"})

	sessCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(sessCtx)

	s := &Session{
		id:      id,
		logger:  logger,
		host:    host,
		browser: o.browser,
		queue:   newQueue(o.cfg.QueueSize),
		cancel:  cancel,
		group:   group,
	}
	group.Go(func() error { return s.queue.Run(groupCtx) })

	s.collector = pagedata.New(&queuedBrowser{BrowserPort: o.browser, queue: s.queue}, logger.WithField("component", "pagedata"), o.cfg.PageData)
	s.exec = newExecutor(groupCtx, o.browser, o.backend, s.collector, host, logger, o.cfg.Executor, intentToken, s.queue.Post)
	s.transport = newTransport(o.backend, o.dialer, logger.WithField("component", "transport"), o.cfg.Transport)

	s.unsubscribe = o.browser.Subscribe(s.onSurfaceEvent)
	if err := s.queue.Do(ctx, s.exec.ShowInitialSurface); err != nil {
		s.Close()
		return nil, err
	}

	err = s.transport.Connect(ctx, intentToken, transportHandlers{
		OnConfiguration: func(conf *entity.AutomationConfiguration) {
			s.collector.ConfigureScreenshots(claims.CaptureScreenshot, conf.ImageOptimization)
			if err := s.queue.Do(ctx, func() { s.exec.ApplyConfiguration(conf) }); err != nil {
				logger.Warn("Configuration not applied", "error", err)
			}
		},
		OnConnection: func(ev entity.ConnectionEvent) {
			s.queue.Post(func() { s.exec.HandleConnection(ev) })
		},
		OnCommand:        s.onCommand,
		OnDataComplete:   host.OnDataComplete,
		OnPromptComplete: host.OnPromptComplete,
		OnError:          s.fail,
	})
	if err != nil {
		logger.Error("Session transport failed", "error", err)
		s.fail(genericConnectionError)
		return s, nil
	}

	if claims.Record || claims.CaptureScreenshot {
		tcfg := o.cfg.Telemetry
		tcfg.CaptureScreenshot = claims.CaptureScreenshot
		if claims.ScreenshotInterval > 0 {
			tcfg.Interval = claims.ScreenshotInterval
		}
		loop := telemetry.New(o.browser, o.backend, logger.WithField("component", "telemetry"), intentToken, tcfg)
		group.Go(func() error { return loop.Run(groupCtx) })
	}

	logger.Info("Session opened")
	return s, nil
}

func (s *Session) onCommand(payload json.RawMessage) {
	cmd, err := entity.ParseCommand(payload)
	if err != nil {
		id := entity.PeekCommandID(payload)
		s.queue.Post(func() { s.exec.RejectCommand(id, err) })
		return
	}
	s.queue.Post(func() { s.exec.HandleCommand(cmd) })
}

// onSurfaceEvent routes browser notifications. Page-data replies go straight
// to the collector, whose caller may be waiting on the queue.
func (s *Session) onSurfaceEvent(ev entity.SurfaceEvent) {
	switch ev.Kind {
	case entity.SurfaceConsole:
		if ev.Surface == entity.SurfaceAutomation {
			s.logger.Debug("Automation console", "message", ev.Console)
		}
	case entity.SurfaceNavigationStarted:
		s.queue.Post(func() { s.exec.HandleNavigationStarted(ev.Surface, ev.URL) })
	case entity.SurfaceNavigationFinished:
		s.queue.Post(func() { s.exec.HandleNavigationFinished(ev.Surface, ev.URL) })
	case entity.SurfaceMessage:
		if ev.Message == nil {
			return
		}
		switch ev.Message.Type {
		case entity.BridgePageData:
			s.collector.Resolve(ev.Message.RequestID, ev.Message.Value)
		case entity.BridgeWait:
			msg := ev.Message
			s.queue.Post(func() { s.exec.HandleWaitMessage(msg) })
		case entity.BridgeLog:
			s.logger.Debug("Bridge log", "surface", ev.Surface, "value", ev.Message.Value.Interface())
		}
	}
}

// fail surfaces a transport error to the host once.
func (s *Session) fail(message string) {
	s.errOnce.Do(func() {
		s.host.OnConnectionError(entity.ConnectionError{Error: message})
	})
}

func (s *Session) ID() string {
	return s.id
}

// State returns a copy of the executor bookkeeping.
func (s *Session) State() entity.SessionState {
	if s.closed.Load() {
		return s.exec.State()
	}
	var st entity.SessionState
	if err := s.queue.Do(context.Background(), func() { st = s.exec.State() }); err != nil {
		return entity.SessionState{Phase: entity.PhaseIdle}
	}
	return st
}

func (s *Session) ConnectionSnapshot() *entity.ConnectionSnapshot {
	return s.State().Connection
}

// Exit notifies the backend that the user left, closes the session and then
// reports reason to the host.
func (s *Session) Exit(ctx context.Context, reason string) {
	if s.closed.Load() {
		return
	}
	s.transport.EmitModalExit(ctx)
	s.Close()
	s.host.OnExit(reason)
}

// Close tears the session down. Pending timers are stopped; result posts
// already in flight may still complete. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.transport.Disconnect()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.cancel()
		s.queue.Close()
		if err := s.group.Wait(); err != nil {
			s.logger.Warn("Session task failed", "error", err)
		}
		s.exec.Reset()
		s.collector.Reset()
		s.closed.Store(true)
		s.logger.Info("Session closed")
	})
}

// queuedBrowser runs page scripts on the session queue so they never
// interleave with command execution.
type queuedBrowser struct {
	output.BrowserPort
	queue *queue
}

func (b *queuedBrowser) ExecuteScript(ctx context.Context, surface entity.Surface, script string) (entity.Value, error) {
	var (
		v   entity.Value
		err error
	)
	if qerr := b.queue.Do(ctx, func() {
		v, err = b.BrowserPort.ExecuteScript(ctx, surface, script)
	}); qerr != nil {
		return entity.Null(), qerr
	}
	return v, err
}
