package output

import (
	"context"
	"encoding/json"
	"net/url"
)

type RealtimeHandler func(args []json.RawMessage)

type RealtimeEndpoint struct {
	BaseURL   string
	Namespace string
	Query     url.Values
}

// RealtimeConn is one publish/subscribe socket. Handlers must be registered
// before Connect.
type RealtimeConn interface {
	On(event string, handler RealtimeHandler)
	OnDisconnect(handler func(reason string))
	Connect(ctx context.Context) error
	Emit(event string, args ...any) error
	EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error)
	Close() error
}

type RealtimeDialer interface {
	NewConn(endpoint RealtimeEndpoint) RealtimeConn
}
