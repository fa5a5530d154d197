package rod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

var _ output.BrowserPort = (*BrowserAdapter)(nil)

var ErrUnknownSurface = errors.New("unknown browser surface")

const (
	defaultTimeout = 30 * time.Second
	bridgeBinding  = "__sessionBridgePost"
)

// bridgeShim exposes window.SessionBridge.postMessage on every document. Page
// scripts may post objects or pre-serialized strings.
const bridgeShim = `(() => {
  if (window.SessionBridge) return;
  window.SessionBridge = {
    postMessage(message) {
      try {
        const payload = typeof message === 'string' ? message : JSON.stringify(message);
        window.` + bridgeBinding + `(payload);
      } catch (e) {}
    }
  };
})();`

type BrowserConfig struct {
	Headless  bool
	NoSandbox bool
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string
	Timeout    time.Duration
	Logger     output.LoggerPort
}

func DefaultConfig() BrowserConfig {
	return BrowserConfig{
		Headless: true,
		Timeout:  defaultTimeout,
	}
}

type surfacePage struct {
	page   *rod.Page
	cancel context.CancelFunc

	mu  sync.Mutex
	url string
}

func (s *surfacePage) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *surfacePage) setURL(u string) {
	s.mu.Lock()
	s.url = u
	s.mu.Unlock()
}

// BrowserAdapter runs the ui and automation surfaces as two pages of one
// browser. Only one of them is in front at a time.
type BrowserAdapter struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   output.LoggerPort
	timeout  time.Duration
	pages    map[entity.Surface]*surfacePage

	mu       sync.Mutex
	handlers map[int]func(entity.SurfaceEvent)
	nextSub  int
	closed   bool
}

func NewBrowserAdapter(ctx context.Context, cfg BrowserConfig) (*BrowserAdapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	b := &BrowserAdapter{
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		pages:    make(map[entity.Surface]*surfacePage, 2),
		handlers: make(map[int]func(entity.SurfaceEvent)),
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Context(ctx).
			Headless(cfg.Headless).
			NoSandbox(cfg.NoSandbox).
			Delete("use-mock-keychain")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		b.launcher = l
		controlURL = u
	}

	b.browser = rod.New().ControlURL(controlURL)
	if err := b.browser.Connect(); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}

	for _, surface := range []entity.Surface{entity.SurfaceUI, entity.SurfaceAutomation} {
		if err := b.openSurface(surface); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *BrowserAdapter) openSurface(surface entity.Surface) error {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open %s surface: %w", surface, err)
	}

	sp := &surfacePage{page: page, url: "about:blank"}
	b.pages[surface] = sp

	if _, err := page.Expose(bridgeBinding, func(arg gson.JSON) (interface{}, error) {
		msg, err := decodeBridgeMessage(arg)
		if err != nil {
			b.logDebug("Dropping bridge message", "surface", surface, "error", err)
			return nil, nil
		}
		b.emit(entity.SurfaceEvent{Kind: entity.SurfaceMessage, Surface: surface, URL: sp.currentURL(), Message: msg})
		return nil, nil
	}); err != nil {
		return fmt.Errorf("expose bridge on %s surface: %w", surface, err)
	}
	if _, err := page.EvalOnNewDocument(bridgeShim); err != nil {
		return fmt.Errorf("install bridge on %s surface: %w", surface, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sp.cancel = cancel
	wait := page.Context(ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != page.FrameID || e.Request == nil {
				return
			}
			b.emit(entity.SurfaceEvent{Kind: entity.SurfaceNavigationStarted, Surface: surface, URL: e.Request.URL})
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			sp.setURL(e.Frame.URL)
		},
		func(e *proto.PageLoadEventFired) {
			b.emit(entity.SurfaceEvent{Kind: entity.SurfaceNavigationFinished, Surface: surface, URL: sp.currentURL()})
		},
		func(e *proto.RuntimeConsoleAPICalled) {
			b.emit(entity.SurfaceEvent{Kind: entity.SurfaceConsole, Surface: surface, URL: sp.currentURL(), Console: stringifyConsoleArgs(e.Args)})
		},
	)
	go wait()
	return nil
}

func (b *BrowserAdapter) surface(s entity.Surface) (*surfacePage, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("browser is closed")
	}
	sp, ok := b.pages[s]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSurface, s)
	}
	return sp, nil
}

// LoadURL starts a navigation and returns once it is committed. Completion is
// reported through a navigation_finished event.
func (b *BrowserAdapter) LoadURL(ctx context.Context, surface entity.Surface, url string) error {
	sp, err := b.surface(surface)
	if err != nil {
		return err
	}
	if err := sp.page.Context(ctx).Timeout(b.timeout).Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (b *BrowserAdapter) ExecuteScript(ctx context.Context, surface entity.Surface, script string) (entity.Value, error) {
	sp, err := b.surface(surface)
	if err != nil {
		return entity.Null(), err
	}

	res, err := proto.RuntimeEvaluate{
		Expression:    script,
		ReturnByValue: true,
		UserGesture:   true,
	}.Call(sp.page.Context(ctx).Timeout(b.timeout))
	if err != nil {
		return entity.Null(), fmt.Errorf("evaluate script: %w", err)
	}
	if res.ExceptionDetails != nil {
		return entity.Null(), fmt.Errorf("script threw: %s", exceptionText(res.ExceptionDetails))
	}
	return remoteValue(res.Result)
}

func (b *BrowserAdapter) SetVisible(ctx context.Context, surface entity.Surface) error {
	sp, err := b.surface(surface)
	if err != nil {
		return err
	}
	if _, err := sp.page.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("activate %s surface: %w", surface, err)
	}
	return nil
}

func (b *BrowserAdapter) CurrentURL(surface entity.Surface) string {
	sp, err := b.surface(surface)
	if err != nil {
		return ""
	}
	return sp.currentURL()
}

func (b *BrowserAdapter) SetUserAgent(ctx context.Context, surface entity.Surface, userAgent string) error {
	sp, err := b.surface(surface)
	if err != nil {
		return err
	}
	if err := sp.page.Context(ctx).SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	return nil
}

// Cookies reads cookies from the browser store, including HttpOnly ones. With
// no domains it returns the cookies of the current document.
func (b *BrowserAdapter) Cookies(ctx context.Context, surface entity.Surface, domains []string) ([]entity.Cookie, error) {
	sp, err := b.surface(surface)
	if err != nil {
		return nil, err
	}
	cookies, err := sp.page.Context(ctx).Cookies(cookieURLs(domains))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	out := make([]entity.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, entity.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (b *BrowserAdapter) Screenshot(ctx context.Context, surface entity.Surface, opts entity.ImageOptimization) (*entity.Screenshot, error) {
	sp, err := b.surface(surface)
	if err != nil {
		return nil, err
	}
	raw, err := sp.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return optimizeScreenshot(raw, opts)
}

func (b *BrowserAdapter) Subscribe(handler func(entity.SurfaceEvent)) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *BrowserAdapter) emit(ev entity.SurfaceEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	handlers := make([]func(entity.SurfaceEvent), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *BrowserAdapter) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.handlers = make(map[int]func(entity.SurfaceEvent))
	b.mu.Unlock()

	for _, sp := range b.pages {
		if sp.cancel != nil {
			sp.cancel()
		}
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
}

func (b *BrowserAdapter) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func decodeBridgeMessage(arg gson.JSON) (*entity.BridgeMessage, error) {
	var raw []byte
	if s, ok := arg.Val().(string); ok {
		raw = []byte(s)
	} else {
		raw = []byte(arg.JSON("", ""))
	}
	var msg entity.BridgeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode bridge message: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("bridge message has no type")
	}
	return &msg, nil
}

func remoteValue(obj *proto.RuntimeRemoteObject) (entity.Value, error) {
	if obj == nil || obj.Type == proto.RuntimeRemoteObjectTypeUndefined || obj.Value.Nil() {
		return entity.Null(), nil
	}
	v, err := entity.ParseValue([]byte(obj.Value.JSON("", "")))
	if err != nil {
		return entity.Null(), fmt.Errorf("decode script result: %w", err)
	}
	return v, nil
}

func exceptionText(d *proto.RuntimeExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

// cookieURLs turns cookie domains such as ".example.com" into the URLs the
// DevTools cookie query expects.
func cookieURLs(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	urls := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.TrimSpace(d), ".")
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		urls = append(urls, "https://"+d, "http://"+d)
	}
	return urls
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}
