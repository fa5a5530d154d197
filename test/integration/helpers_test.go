package integration

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"browser-session/internal/domain/entity"
	"browser-session/internal/infrastructure/backend"
	"browser-session/internal/infrastructure/mockbackend"
	"browser-session/internal/infrastructure/realtime/socketio"
	"browser-session/internal/infrastructure/token"
	"browser-session/internal/usecase/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type hostRecorder struct {
	completes chan entity.ConnectionComplete
	errors    chan entity.ConnectionError
}

func newHostRecorder() *hostRecorder {
	return &hostRecorder{
		completes: make(chan entity.ConnectionComplete, 4),
		errors:    make(chan entity.ConnectionError, 4),
	}
}

func (h *hostRecorder) OnConnectionComplete(e entity.ConnectionComplete) { h.completes <- e }
func (h *hostRecorder) OnConnectionError(e entity.ConnectionError)       { h.errors <- e }
func (h *hostRecorder) OnDataComplete(entity.DataComplete)               {}
func (h *hostRecorder) OnPromptComplete(entity.PromptComplete)           {}
func (h *hostRecorder) OnExit(string)                                    {}

func startBackend(t *testing.T, script mockbackend.Script) (*mockbackend.Server, string) {
	t.Helper()
	cfg := mockbackend.DefaultConfig()
	cfg.Script = script
	cfg.ResultTimeout = 5 * time.Second
	srv := mockbackend.New(cfg, zeroLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func zeroLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func sessionConfig(baseURL string) session.Config {
	cfg := session.DefaultConfig()
	cfg.Transport.BaseURL = baseURL
	cfg.Transport.AgentName = "integration"
	cfg.Transport.ModalExitTimeout = 200 * time.Millisecond
	cfg.Executor.ReinjectDelay = 50 * time.Millisecond
	cfg.PageData.Timeout = 2 * time.Second
	return cfg
}

func newBackendClient(baseURL string) *backend.Client {
	cfg := backend.DefaultConfig(baseURL)
	cfg.ResultBackoff = 10 * time.Millisecond
	return backend.NewClient(cfg)
}

func newDialer() *socketio.Dialer {
	return socketio.NewDialer(socketio.DefaultOptions())
}

func newTokens() *token.Decoder {
	return token.NewDecoder()
}

func resultsByID(srv *mockbackend.Server) map[string]entity.CommandResult {
	out := make(map[string]entity.CommandResult)
	for _, r := range srv.Results() {
		out[r.ID] = r
	}
	return out
}

func awaitComplete(t *testing.T, h *hostRecorder, timeout time.Duration) entity.ConnectionComplete {
	t.Helper()
	select {
	case c := <-h.completes:
		return c
	case e := <-h.errors:
		require.FailNow(t, "connection error", e.Error)
	case <-time.After(timeout):
		require.FailNow(t, "no connection complete")
	}
	return entity.ConnectionComplete{}
}
