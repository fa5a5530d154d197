package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/di"
	"browser-session/internal/domain/entity"
	"browser-session/internal/infrastructure/env"
)

func main() {
	envService := env.NewEnvService()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := di.LoadConfig(envService)
	cfg.BrowserHeadless = envService.GetBool("BROWSER_HEADLESS", false)

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer container.Close()

	finished := make(chan string, 1)
	finish := func(outcome string) {
		select {
		case finished <- outcome:
		default:
		}
	}

	host := output.HostFuncs{
		ConnectionComplete: func(e entity.ConnectionComplete) {
			fmt.Printf("\nConnection complete: id=%s history=%d\n", e.ConnectionID, len(e.History))
			finish("complete")
		},
		ConnectionError: func(e entity.ConnectionError) {
			fmt.Printf("\nConnection error: %s\n", e.Error)
			finish("error")
		},
		DataComplete: func(e entity.DataComplete) {
			container.Logger.Info("Data complete", "data", e.Data.Interface())
		},
		PromptComplete: func(e entity.PromptComplete) {
			container.Logger.Info("Prompt complete", "key", e.Key)
		},
		Exit: func(reason string) {
			fmt.Printf("\nSession exited: %s\n", reason)
		},
	}

	session, err := container.Sessions.Open(ctx, envService.MustGet("INTENT_TOKEN"), host)
	if err != nil {
		container.Logger.Error("Session open failed", "error", err)
		os.Exit(1)
	}
	container.Logger.Info("Session started", "socket", cfg.SocketBaseURL)

	select {
	case outcome := <-finished:
		container.Logger.Info("Session finished", "outcome", outcome)
		// Leave the result page up for a moment before tearing down.
		select {
		case <-ctx.Done():
		case <-time.After(envService.GetDuration("LINGER", 5*time.Second)):
		}
		session.Close()
	case <-ctx.Done():
		exitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		session.Exit(exitCtx, "interrupted")
		cancel()
	}
}
