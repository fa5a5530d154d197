// Package mockbackend is a local stand-in for the automation backend. It
// serves the configuration and result endpoints and replays a scripted list
// of commands over the realtime channel.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"browser-session/internal/domain/entity"
	"browser-session/internal/infrastructure/realtime/socketiotest"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/rs/zerolog"
)

const intentTokenHeader = "x-intent-token"

// Script is the file format replayed by the server.
type Script struct {
	Configuration entity.AutomationConfiguration `json:"configuration"`
	Commands      []json.RawMessage              `json:"commands"`
}

func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("decode script %s: %w", path, err)
	}
	return s, nil
}

type Config struct {
	Namespace string
	Script    Script
	// CommandDelay pauses before every emitted command.
	CommandDelay time.Duration
	// ResultTimeout bounds the wait for a command's result before the next
	// command is sent anyway.
	ResultTimeout time.Duration
	JoinTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Namespace:     "/automation",
		ResultTimeout: time.Minute,
		JoinTimeout:   10 * time.Second,
	}
}

type Server struct {
	cfg    Config
	logger zerolog.Logger
	sio    *socketiotest.Server
	router chi.Router

	mu       sync.Mutex
	results  []entity.CommandResult
	states   []entity.BrowserState
	tokens   []string
	exits    int
	resultCh chan entity.CommandResult
}

func New(cfg Config, logger zerolog.Logger) *Server {
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = time.Minute
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sio:      socketiotest.NewServer(cfg.Namespace),
		resultCh: make(chan entity.CommandResult, 64),
	}
	s.sio.OnConnect = s.replay
	s.sio.Ack = s.ack

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/automation", func(r chi.Router) {
		r.Use(requireIntentToken)
		r.Get("/configuration", s.handleConfiguration)
		r.Post("/command-result", s.handleCommandResult)
		r.Post("/browser-state", s.handleBrowserState)
	})
	r.Handle("/socket.io/*", s.sio)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func requireIntentToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(intentTokenHeader) == "" {
			http.Error(w, "missing intent token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tokens = append(s.tokens, r.Header.Get(intentTokenHeader))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.Script.Configuration); err != nil {
		entry := httplog.LogEntry(r.Context())
		entry.Error().Err(err).Msg("encode configuration")
	}
}

func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	var result entity.CommandResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()

	entry := httplog.LogEntry(r.Context())
	ev := entry.Info().Str("id", result.ID).Str("status", string(result.Status))
	if result.PageData != nil {
		ev = ev.Str("url", result.PageData.URL).Int("cookies", len(result.PageData.Cookies))
	}
	if result.Error != "" {
		ev = ev.Str("error", result.Error)
	}
	ev.Msg("command result")

	select {
	case s.resultCh <- result:
	default:
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBrowserState(w http.ResponseWriter, r *http.Request) {
	var state entity.BrowserState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()

	entry := httplog.LogEntry(r.Context())
	entry.Debug().
		Str("url", state.URL).
		Bool("screenshot", state.Screenshot != "").
		Msg("browser state")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ack(conn *socketiotest.Conn, ev socketiotest.Event) ([]any, bool) {
	if ev.Name != "modalExit" {
		return nil, false
	}
	s.mu.Lock()
	s.exits++
	s.mu.Unlock()
	s.logger.Info().Msg("modal exit")
	return []any{true}, true
}

// replay waits for the client to join, then sends each scripted command and
// waits for its result before the next one. It stops after a done command.
func (s *Server) replay(conn *socketiotest.Conn) {
	join, err := conn.WaitEvent("join", s.cfg.JoinTimeout)
	if err != nil {
		s.logger.Warn().Err(err).Msg("client never joined")
		_ = conn.Disconnect()
		return
	}
	s.logger.Info().Str("agentName", conn.Query.Get("agentName")).Int("args", len(join.Args)).Msg("client joined")
	if err := conn.Emit("connected", map[string]any{}); err != nil {
		return
	}

	for i, raw := range s.cfg.Script.Commands {
		if s.cfg.CommandDelay > 0 {
			select {
			case <-conn.Closed():
				return
			case <-time.After(s.cfg.CommandDelay):
			}
		}

		id := entity.PeekCommandID(raw)
		s.logger.Info().Int("step", i+1).Str("id", id).Msg("sending command")
		if err := conn.EmitRaw("command", raw); err != nil {
			s.logger.Warn().Err(err).Msg("command not sent")
			return
		}

		cmd, err := entity.ParseCommand(raw)
		if err == nil && cmd.Type == entity.CommandDone {
			return
		}
		if !s.awaitResult(conn, id) {
			return
		}
	}
}

func (s *Server) awaitResult(conn *socketiotest.Conn, id string) bool {
	timeout := time.NewTimer(s.cfg.ResultTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-conn.Closed():
			return false
		case <-timeout.C:
			s.logger.Warn().Str("id", id).Msg("no result, moving on")
			return true
		case res := <-s.resultCh:
			if res.ID == id {
				return true
			}
		}
	}
}

func (s *Server) Results() []entity.CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.CommandResult(nil), s.results...)
}

func (s *Server) StateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *Server) Exits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exits
}
