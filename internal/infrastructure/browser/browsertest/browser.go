// Package browsertest provides an in-memory BrowserPort for tests.
package browsertest

import (
	"context"
	"strings"
	"sync"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
)

var _ output.BrowserPort = (*Browser)(nil)

type ScriptCall struct {
	Surface entity.Surface
	Script  string
}

type LoadCall struct {
	Surface entity.Surface
	URL     string
}

// Browser records every call. Hooks, when set, decide the outcome of scripts
// and loads; they run without the lock held.
type Browser struct {
	OnScript func(surface entity.Surface, script string) (entity.Value, error)
	OnLoad   func(surface entity.Surface, url string) error

	mu         sync.Mutex
	scripts    []ScriptCall
	loads      []LoadCall
	visible    []entity.Surface
	urls       map[entity.Surface]string
	userAgents map[entity.Surface]string
	cookies    []entity.Cookie
	cookieErr  error
	shot       *entity.Screenshot
	shotErr    error
	handlers   map[int]func(entity.SurfaceEvent)
	nextID     int
	closed     bool
}

func New() *Browser {
	return &Browser{
		urls:       make(map[entity.Surface]string),
		userAgents: make(map[entity.Surface]string),
		handlers:   make(map[int]func(entity.SurfaceEvent)),
	}
}

func (b *Browser) LoadURL(ctx context.Context, surface entity.Surface, url string) error {
	b.mu.Lock()
	b.loads = append(b.loads, LoadCall{Surface: surface, URL: url})
	b.urls[surface] = url
	hook := b.OnLoad
	b.mu.Unlock()

	if hook != nil {
		return hook(surface, url)
	}
	return nil
}

func (b *Browser) ExecuteScript(ctx context.Context, surface entity.Surface, script string) (entity.Value, error) {
	b.mu.Lock()
	b.scripts = append(b.scripts, ScriptCall{Surface: surface, Script: script})
	hook := b.OnScript
	b.mu.Unlock()

	if hook != nil {
		return hook(surface, script)
	}
	return entity.Null(), nil
}

func (b *Browser) SetVisible(ctx context.Context, surface entity.Surface) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = append(b.visible, surface)
	return nil
}

func (b *Browser) CurrentURL(surface entity.Surface) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.urls[surface]
}

func (b *Browser) SetUserAgent(ctx context.Context, surface entity.Surface, userAgent string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userAgents[surface] = userAgent
	return nil
}

func (b *Browser) Cookies(ctx context.Context, surface entity.Surface, domains []string) ([]entity.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cookieErr != nil {
		return nil, b.cookieErr
	}
	return append([]entity.Cookie(nil), b.cookies...), nil
}

func (b *Browser) Screenshot(ctx context.Context, surface entity.Surface, opts entity.ImageOptimization) (*entity.Screenshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shot, b.shotErr
}

func (b *Browser) Subscribe(handler func(entity.SurfaceEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Emit delivers ev to every subscriber, as a real surface would.
func (b *Browser) Emit(ev entity.SurfaceEvent) {
	b.mu.Lock()
	handlers := make([]func(entity.SurfaceEvent), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	if ev.Kind == entity.SurfaceNavigationFinished && ev.URL != "" {
		b.urls[ev.Surface] = ev.URL
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *Browser) SetCookies(cookies []entity.Cookie, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies = cookies
	b.cookieErr = err
}

func (b *Browser) SetScreenshot(shot *entity.Screenshot, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shot = shot
	b.shotErr = err
}

func (b *Browser) Scripts() []ScriptCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ScriptCall(nil), b.scripts...)
}

// CountScripts counts executed scripts containing substr.
func (b *Browser) CountScripts(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.scripts {
		if strings.Contains(s.Script, substr) {
			n++
		}
	}
	return n
}

func (b *Browser) Loads() []LoadCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]LoadCall(nil), b.loads...)
}

func (b *Browser) VisibleHistory() []entity.Surface {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]entity.Surface(nil), b.visible...)
}

func (b *Browser) UserAgent(surface entity.Surface) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userAgents[surface]
}

func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
