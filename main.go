package main

import (
	"log/slog"
	"os"

	"github.com/aranyaone/relay/internal/server"
)

func main() {
	s, err := server.New()
	if err != nil {
		slog.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}
	s.Start()
}
