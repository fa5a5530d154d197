// Package pagedata requests DOM, storage and cookie snapshots from the
// automation surface and correlates the asynchronous replies.
package pagedata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"

	"github.com/google/uuid"
)

const defaultTimeout = 5 * time.Second

type Config struct {
	Timeout           time.Duration
	IncludeScreenshot bool
	Image             entity.ImageOptimization
	// CompactHTML, when set, rewrites the collected document before it is reported.
	CompactHTML func(string) string
}

func DefaultConfig() Config {
	return Config{
		Timeout: defaultTimeout,
		Image:   entity.ImageOptimization{Quality: 80, MaxWidth: 1024},
	}
}

type Collector struct {
	browser output.BrowserPort
	logger  output.LoggerPort

	mu      sync.Mutex
	cfg     Config
	pending map[string]chan entity.Value
	newID   func() string
}

func New(browser output.BrowserPort, logger output.LoggerPort, cfg Config) *Collector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Collector{
		browser: browser,
		logger:  logger,
		cfg:     cfg,
		pending: make(map[string]chan entity.Value),
		newID:   uuid.NewString,
	}
}

// ConfigureScreenshots applies the screenshot settings known only after the
// intent token and configuration are read.
func (c *Collector) ConfigureScreenshots(enabled bool, image entity.ImageOptimization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.IncludeScreenshot = enabled
	if image.Quality > 0 || image.MaxWidth > 0 || image.MaxHeight > 0 {
		c.cfg.Image = image
	}
}

// Collect returns nil when the surface does not reply within the timeout.
func (c *Collector) Collect(ctx context.Context, cookieDomains []string) *entity.PageData {
	c.mu.Lock()
	cfg := c.cfg
	id := c.newID()
	reply := make(chan entity.Value, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	if _, err := c.browser.ExecuteScript(ctx, entity.SurfaceAutomation, collectScript(id)); err != nil {
		c.forget(id)
		c.logger.Warn("Page data script failed", "requestId", id, "error", err)
		return nil
	}

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()

	var raw entity.Value
	select {
	case raw = <-reply:
	case <-timer.C:
		if c.forget(id) {
			c.logger.Warn("Page data collection timed out", "requestId", id, "timeout", cfg.Timeout)
			return nil
		}
		// Resolve won the race; its value is already buffered.
		raw = <-reply
	case <-ctx.Done():
		c.forget(id)
		return nil
	}

	data, err := decode(raw)
	if err != nil {
		c.logger.Warn("Page data reply malformed", "requestId", id, "error", err)
		return nil
	}

	c.enrich(ctx, cfg, data, cookieDomains)
	return data
}

// Resolve delivers a pageData reply. Unknown or already-expired request ids
// are ignored and reported as false.
func (c *Collector) Resolve(requestID string, value entity.Value) bool {
	c.mu.Lock()
	reply, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping page data reply", "requestId", requestID)
		return false
	}
	reply <- value
	return true
}

func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reset drops every outstanding request; their callers time out to nil.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]chan entity.Value)
}

func (c *Collector) forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Collector) enrich(ctx context.Context, cfg Config, data *entity.PageData, cookieDomains []string) {
	cookies, err := c.browser.Cookies(ctx, entity.SurfaceAutomation, cookieDomains)
	if err != nil {
		data.Errors = append(data.Errors, fmt.Sprintf("cookies: %v", err))
	} else {
		data.Cookies = mergeCookies(cookies, data.Cookies)
	}

	if cfg.IncludeScreenshot {
		shot, err := c.browser.Screenshot(ctx, entity.SurfaceAutomation, cfg.Image)
		if err != nil {
			data.Errors = append(data.Errors, fmt.Sprintf("screenshot: %v", err))
		} else {
			data.Screenshot = shot
		}
	}

	if cfg.CompactHTML != nil && data.HTML != "" {
		data.HTML = cfg.CompactHTML(data.HTML)
	}
}

func decode(v entity.Value) (*entity.PageData, error) {
	if _, ok := v.AsObject(); !ok {
		return nil, fmt.Errorf("expected object, got %s", v.Kind())
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var data entity.PageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// mergeCookies keeps every browser-store cookie and adds script-visible ones
// the store did not report.
func mergeCookies(store, document []entity.Cookie) []entity.Cookie {
	out := make([]entity.Cookie, 0, len(store)+len(document))
	seen := make(map[string]bool, len(store))
	for _, c := range store {
		seen[c.Name] = true
		out = append(out, c)
	}
	for _, c := range document {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}
