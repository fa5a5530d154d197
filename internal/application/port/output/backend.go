package output

import (
	"context"

	"browser-session/internal/domain/entity"
)

// BackendPort is the REST side of the session backend. Every call is
// authenticated with the intent token.
type BackendPort interface {
	FetchConfiguration(ctx context.Context, intentToken string) (*entity.AutomationConfiguration, error)
	SendCommandResult(ctx context.Context, intentToken string, result entity.CommandResult) error
	SendBrowserState(ctx context.Context, intentToken string, state entity.BrowserState) error
}
