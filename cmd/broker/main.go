// Command broker runs the rendezvous broker server (spec §4.6, §6):
// room creation/status, TURN-credential minting, and the message-session
// relay. Grounded on the teacher's main.go (http.HandleFunc,
// http.ListenAndServe, os.Getenv-sourced secrets), generalized to the
// broker's full REST+WS surface and given a graceful shutdown path.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n0remac/p2pcall/internal/broker"
)

func main() {
	cfg := broker.ConfigFromEnv()

	b := broker.New(cfg)
	b.Start()
	defer b.Close()

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: b.Handler(),
	}

	go func() {
		log.Printf("[INFO] broker listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] broker: listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("[INFO] broker shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[ERROR] broker: shutdown: %v", err)
	}
}
