package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"browser-session/internal/infrastructure/env"
	"browser-session/internal/infrastructure/mockbackend"

	"github.com/go-chi/httplog"
)

func main() {
	envService := env.NewEnvService()

	logger := httplog.NewLogger("mock-backend", httplog.Options{
		JSON:     envService.GetBool("LOG_JSON", false),
		LogLevel: envService.GetWithDefault("LOG_LEVEL", "info"),
		Concise:  true,
	})

	cfg := mockbackend.DefaultConfig()
	cfg.Namespace = envService.GetWithDefault("SOCKET_NAMESPACE", cfg.Namespace)
	cfg.CommandDelay = envService.GetDuration("COMMAND_DELAY", 500*time.Millisecond)
	if path := envService.Get("MOCK_SCRIPT"); path != "" {
		script, err := mockbackend.LoadScript(path)
		if err != nil {
			log.Fatalf("load script: %v", err)
		}
		cfg.Script = script
	}

	srv := &http.Server{
		Addr:              envService.GetWithDefault("MOCK_ADDR", ":4000"),
		Handler:           mockbackend.New(cfg, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", srv.Addr).Int("commands", len(cfg.Script.Commands)).Msg("mock backend listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
