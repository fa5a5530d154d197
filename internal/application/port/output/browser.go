package output

import (
	"context"

	"browser-session/internal/domain/entity"
)

// BrowserPort drives the two browsing surfaces of a session.
type BrowserPort interface {
	LoadURL(ctx context.Context, surface entity.Surface, url string) error
	// ExecuteScript evaluates script without awaiting returned promises.
	ExecuteScript(ctx context.Context, surface entity.Surface, script string) (entity.Value, error)
	SetVisible(ctx context.Context, surface entity.Surface) error
	CurrentURL(surface entity.Surface) string
	SetUserAgent(ctx context.Context, surface entity.Surface, userAgent string) error

	Cookies(ctx context.Context, surface entity.Surface, domains []string) ([]entity.Cookie, error)
	Screenshot(ctx context.Context, surface entity.Surface, opts entity.ImageOptimization) (*entity.Screenshot, error)

	Subscribe(handler func(entity.SurfaceEvent)) (unsubscribe func())
	Close()
}
