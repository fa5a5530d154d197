// Package socketiotest is a small in-process Socket.IO server. It speaks the
// websocket transport only and is meant for tests and local development.
package socketiotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Event struct {
	Name  string
	Args  []json.RawMessage
	HasID bool
	ID    int
}

// AckFunc decides the acknowledgement for an event emitted with an ack id.
// Returning ok=false leaves the event unacknowledged.
type AckFunc func(conn *Conn, ev Event) (args []any, ok bool)

type Server struct {
	Namespace    string
	PingInterval time.Duration
	PingTimeout  time.Duration
	// Reject, when set, refuses namespace connections with this message.
	Reject string
	Ack    AckFunc
	// OnConnect runs in its own goroutine for every accepted connection.
	OnConnect func(conn *Conn)

	upgrader websocket.Upgrader
	conns    chan *Conn
	mu       sync.Mutex
	nextSID  int
}

func NewServer(namespace string) *Server {
	return &Server{
		Namespace:    namespace,
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(chan *Conn, 16),
	}
}

// NextConn waits for the next client that joined the namespace.
func (s *Server) NextConn(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-s.conns:
		return c, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no socket connection within %s", timeout)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "websocket transport only", http.StatusBadRequest)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.nextSID++
	sid := "sid-" + strconv.Itoa(s.nextSID)
	s.mu.Unlock()

	c := &Conn{
		ws:     ws,
		server: s,
		Query:  r.URL.Query(),
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}

	open, _ := json.Marshal(map[string]any{
		"sid":          sid,
		"upgrades":     []string{},
		"pingInterval": s.PingInterval.Milliseconds(),
		"pingTimeout":  s.PingTimeout.Milliseconds(),
		"maxPayload":   1000000,
	})
	if err := c.write("0" + string(open)); err != nil {
		ws.Close()
		return
	}

	if !c.awaitJoin(sid) {
		ws.Close()
		return
	}

	select {
	case s.conns <- c:
	default:
	}
	if s.OnConnect != nil {
		go s.OnConnect(c)
	}
	go c.pingLoop()
	c.readLoop()
}

type Conn struct {
	Query url.Values

	ws      *websocket.Conn
	server  *Server
	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *Conn) namespace() string {
	if c.server.Namespace == "" {
		return "/"
	}
	return c.server.Namespace
}

func (c *Conn) awaitJoin(sid string) bool {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return false
		}
		if len(msg) == 0 || msg[0] != '4' {
			continue
		}
		p, err := DecodePacket(string(msg[1:]))
		if err != nil || p.Type != PacketConnect || p.Namespace != c.namespace() {
			continue
		}
		if c.server.Reject != "" {
			data, _ := json.Marshal(map[string]string{"message": c.server.Reject})
			reply := Packet{Type: PacketConnectError, Namespace: c.namespace(), Data: data}
			_ = c.write("4" + reply.Encode())
			return false
		}
		data, _ := json.Marshal(map[string]string{"sid": sid})
		reply := Packet{Type: PacketConnect, Namespace: c.namespace(), Data: data}
		return c.write("4"+reply.Encode()) == nil
	}
}

func (c *Conn) readLoop() {
	defer c.shutdown()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case '1':
			return
		case '4':
			p, err := DecodePacket(string(msg[1:]))
			if err != nil {
				continue
			}
			switch p.Type {
			case PacketDisconnect:
				return
			case PacketEvent:
				name, args, err := SplitEvent(p.Data)
				if err != nil {
					continue
				}
				ev := Event{Name: name, Args: args, HasID: p.HasID, ID: p.ID}
				if ev.HasID && c.server.Ack != nil {
					if ackArgs, ok := c.server.Ack(c, ev); ok {
						_ = c.ack(ev.ID, ackArgs...)
					}
				}
				select {
				case c.events <- ev:
				default:
				}
			}
		}
	}
}

func (c *Conn) pingLoop() {
	if c.server.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.server.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.write("2"); err != nil {
				return
			}
		}
	}
}

// Emit sends an event to the client.
func (c *Conn) Emit(event string, args ...any) error {
	data, err := EventPayload(event, args...)
	if err != nil {
		return err
	}
	p := Packet{Type: PacketEvent, Namespace: c.namespace(), Data: data}
	return c.write("4" + p.Encode())
}

// EmitRaw sends an event whose single argument is already-encoded JSON.
func (c *Conn) EmitRaw(event string, arg json.RawMessage) error {
	return c.Emit(event, arg)
}

func (c *Conn) ack(id int, args ...any) error {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	p := Packet{Type: PacketAck, Namespace: c.namespace(), HasID: true, ID: id, Data: data}
	return c.write("4" + p.Encode())
}

// NextEvent waits for the next event from the client.
func (c *Conn) NextEvent(timeout time.Duration) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-time.After(timeout):
		return Event{}, fmt.Errorf("no socket event within %s", timeout)
	}
}

// WaitEvent skips events until one named name arrives.
func (c *Conn) WaitEvent(name string, timeout time.Duration) (Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, fmt.Errorf("no %q event within %s", name, timeout)
		}
		ev, err := c.NextEvent(remaining)
		if err != nil {
			return Event{}, fmt.Errorf("no %q event within %s", name, timeout)
		}
		if ev.Name == name {
			return ev, nil
		}
	}
}

// Disconnect ends the namespace session from the server side.
func (c *Conn) Disconnect() error {
	p := Packet{Type: PacketDisconnect, Namespace: c.namespace()}
	err := c.write("4" + p.Encode())
	c.shutdown()
	return err
}

func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

func (c *Conn) write(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}
