package socketio_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/infrastructure/realtime/socketio"
	"browser-session/internal/infrastructure/realtime/socketiotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, srv *socketiotest.Server) *httptest.Server {
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)
	return server
}

func endpoint(base string) output.RealtimeEndpoint {
	return output.RealtimeEndpoint{
		BaseURL:   base,
		Namespace: "/automation",
		Query:     url.Values{"intentToken": {"tok"}, "agentName": {"go-test"}},
	}
}

func TestClient_ConnectEmitReceive(t *testing.T) {
	srv := socketiotest.NewServer("/automation")
	server := newServer(t, srv)

	client := socketio.NewClient(endpoint(server.URL), socketio.DefaultOptions())
	received := make(chan []json.RawMessage, 1)
	client.On("command", func(args []json.RawMessage) { received <- args })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	conn, err := srv.NextConn(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tok", conn.Query.Get("intentToken"))
	assert.Equal(t, "go-test", conn.Query.Get("agentName"))
	assert.Equal(t, "4", conn.Query.Get("EIO"))

	require.NoError(t, client.Emit("join", map[string]string{"intentToken": "tok"}))
	ev, err := conn.NextEvent(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "join", ev.Name)
	assert.JSONEq(t, `{"intentToken":"tok"}`, string(ev.Args[0]))

	require.NoError(t, conn.Emit("command", map[string]any{"id": "c1", "type": "click"}))
	select {
	case args := <-received:
		require.Len(t, args, 1)
		assert.JSONEq(t, `{"id":"c1","type":"click"}`, string(args[0]))
	case <-time.After(time.Second):
		t.Fatal("command event not delivered")
	}
}

func TestClient_MultipleEventArguments(t *testing.T) {
	srv := socketiotest.NewServer("/automation")
	server := newServer(t, srv)

	client := socketio.NewClient(endpoint(server.URL), socketio.DefaultOptions())
	received := make(chan []json.RawMessage, 1)
	client.On("dataComplete", func(args []json.RawMessage) { received <- args })
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	conn, err := srv.NextConn(time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Emit("dataComplete", map[string]any{"ok": true}, "second"))

	select {
	case args := <-received:
		require.Len(t, args, 2)
		assert.JSONEq(t, `{"ok":true}`, string(args[0]))
		assert.JSONEq(t, `"second"`, string(args[1]))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestClient_EmitWithAck(t *testing.T) {
	srv := socketiotest.NewServer("/automation")
	srv.Ack = func(conn *socketiotest.Conn, ev socketiotest.Event) ([]any, bool) {
		return []any{"ok"}, ev.Name == "modalExit"
	}
	server := newServer(t, srv)

	client := socketio.NewClient(endpoint(server.URL), socketio.DefaultOptions())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	args, err := client.EmitWithAck(context.Background(), "modalExit", map[string]any{"timestamp": 1})
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.JSONEq(t, `"ok"`, string(args[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.EmitWithAck(ctx, "unacked")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ConnectRejected(t *testing.T) {
	srv := socketiotest.NewServer("/automation")
	srv.Reject = "invalid token"
	server := newServer(t, srv)

	client := socketio.NewClient(endpoint(server.URL), socketio.DefaultOptions())
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, socketio.ErrConnectRejected)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestClient_DialFailure(t *testing.T) {
	client := socketio.NewClient(endpoint("http://127.0.0.1:1"), socketio.DefaultOptions())
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "tok", "intent token must not leak into errors")
}

func TestClient_ServerDisconnect(t *testing.T) {
	srv := socketiotest.NewServer("/automation")
	server := newServer(t, srv)

	client := socketio.NewClient(endpoint(server.URL), socketio.DefaultOptions())
	reasons := make(chan string, 2)
	client.OnDisconnect(func(reason string) { reasons <- reason })
	require.NoError(t, client.Connect(context.Background()))

	conn, err := srv.NextConn(time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Disconnect())

	select {
	case reason := <-reasons:
		assert.Equal(t, "io server disconnect", reason)
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}

	assert.ErrorIs(t, client.Emit("join"), socketio.ErrNotConnected)
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.Len(t, reasons, 0, "disconnect is reported once")
}

func TestClient_AnswersPing(t *testing.T) {
	srv := socketiotest.NewServer("/automation")
	srv.PingInterval = 20 * time.Millisecond
	srv.PingTimeout = 50 * time.Millisecond
	server := newServer(t, srv)

	client := socketio.NewClient(endpoint(server.URL), socketio.DefaultOptions())
	disconnected := make(chan struct{}, 1)
	client.OnDisconnect(func(string) { disconnected <- struct{}{} })
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	select {
	case <-disconnected:
		t.Fatal("client dropped while pings were flowing")
	case <-time.After(300 * time.Millisecond):
	}
	assert.NoError(t, client.Emit("still-here"))
}

func TestDialer_NewConn(t *testing.T) {
	d := socketio.NewDialer(socketio.DefaultOptions())
	conn := d.NewConn(endpoint("http://localhost"))
	assert.ErrorIs(t, conn.Emit("x"), socketio.ErrNotConnected)
	assert.NoError(t, conn.Close())
}
