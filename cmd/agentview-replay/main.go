// Package main runs the development replay server: it serves a recorded
// frame log over the WebSocket protocol so agentview can be exercised
// without a live backend.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tcmartin/agentview/pkg/api"
)

var (
	// Command-line flags
	addr     = flag.String("addr", ":8090", "Address to listen on")
	logPath  = flag.String("frames", "", "Path to a JSONL frame log")
	interval = flag.Duration("interval", 50*time.Millisecond, "Pause between replayed frames")
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *logPath == "" {
		log.Fatal("missing required -frames flag")
	}

	frameLog, err := api.LoadFrameLog(*logPath)
	if err != nil {
		log.Fatalf("Failed to load frame log: %v", err)
	}
	log.Printf("Loaded %d frames from %s", len(frameLog.Frames), *logPath)

	server := api.NewServer(frameLog, *interval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(*addr); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
