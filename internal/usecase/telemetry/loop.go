// Package telemetry periodically reports the automation surface to the
// backend while a session is recorded.
package telemetry

import (
	"context"
	"encoding/base64"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
)

const defaultInterval = 5 * time.Second

type Config struct {
	Interval          time.Duration
	CaptureScreenshot bool
	Image             entity.ImageOptimization
}

func DefaultConfig() Config {
	return Config{
		Interval: defaultInterval,
		Image:    entity.ImageOptimization{Quality: 60, MaxWidth: 1024},
	}
}

type Loop struct {
	browser output.BrowserPort
	backend output.BackendPort
	logger  output.LoggerPort
	token   string
	cfg     Config
}

func New(browser output.BrowserPort, backend output.BackendPort, logger output.LoggerPort, intentToken string, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Loop{
		browser: browser,
		backend: backend,
		logger:  logger,
		token:   intentToken,
		cfg:     cfg,
	}
}

// Run reports once per interval until ctx is cancelled. Failed reports are
// logged and the loop keeps going.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("Browser state loop started", "interval", l.cfg.Interval, "screenshots", l.cfg.CaptureScreenshot)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("Browser state not delivered", "error", err)
			}
		}
	}
}

func (l *Loop) Tick(ctx context.Context) error {
	state := entity.BrowserState{URL: l.browser.CurrentURL(entity.SurfaceAutomation)}

	if l.cfg.CaptureScreenshot {
		shot, err := l.browser.Screenshot(ctx, entity.SurfaceAutomation, l.cfg.Image)
		if err != nil {
			l.logger.Debug("Screenshot failed", "error", err)
		} else {
			state.Screenshot = base64.StdEncoding.EncodeToString(shot.Data)
		}
	}

	return l.backend.SendBrowserState(ctx, l.token, state)
}
