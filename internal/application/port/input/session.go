package input

import (
	"context"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
)

// SessionPort is one open remote-control session, owned by the host.
type SessionPort interface {
	ConnectionSnapshot() *entity.ConnectionSnapshot
	State() entity.SessionState
	Exit(ctx context.Context, reason string)
	Close()
}

type SessionOpener interface {
	Open(ctx context.Context, intentToken string, host output.HostCallbacks) (SessionPort, error)
}
