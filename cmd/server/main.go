package main

import (
	"log/slog"
	"os"

	"github.com/aranyaone/relay/internal/server"
)

func main() {
	// Create a new server instance. This wires the hub, pub/sub bus,
	// analytics collector, and WebSocket bridge.
	s, err := server.New()
	if err != nil {
		slog.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	// Start the server and block until shutdown.
	s.Start()
}
