package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/relaychat/relay/internal/chat"
	"github.com/relaychat/relay/internal/idgen"
	"github.com/relaychat/relay/internal/server"
)

const (
	httpShutdownTimeout = 10 * time.Second
	hubShutdownTimeout  = 5 * time.Second
)

func main() {
	fmt.Println("Starting Relay server...")

	// A missing .env file is fine; the environment still applies.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %v", err)
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	server.SetConfig(cfg)

	registry := chat.NewRegistry()
	directory := chat.NewDirectory(idgen.NewRoomID)
	history := chat.NewHistory(cfg.HistoryLimit, idgen.NewMessageID, directory.Exists)

	hub := server.NewHub(registry, directory, history)
	go hub.Run()
	log.Println("Hub started and ready to manage WebSocket connections")

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		if err := server.StartServer(httpServer); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-stop:
			log.Printf("Received signal %s, shutting down...", sig)
		case <-ctx.Done():
			// The listener failed; nothing left to shut down gracefully.
			return nil
		}

		if err := server.ShutdownServer(httpServer, httpShutdownTimeout); err != nil {
			log.Printf("HTTP shutdown finished with error: %v", err)
		}
		return hub.Shutdown(hubShutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
	log.Println("Server stopped")
}
