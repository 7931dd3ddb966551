// ABOUTME: Entry point for the development analysis stream server
// ABOUTME: Streams synthetic frames and a play history for local testing
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-vis/internal/mockstream"
)

var (
	port          = flag.Int("port", 8765, "WebSocket server port")
	name          = flag.String("name", "resonate-mock-stream", "Advertised service name")
	fps           = flag.Int("fps", 30, "Frames per second")
	binary        = flag.Bool("binary", false, "Send MessagePack frames instead of JSON")
	noMDNS        = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	trackDuration = flag.Duration("track-duration", 20*time.Second, "Time before moving to the next track")
	enrichAfter   = flag.Duration("enrich-after", 3*time.Second, "Delay before enrichment fields appear")
	logFile       = flag.String("log-file", "mock-stream.log", "Log file path")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(os.Stdout, f))

	log.Printf("Starting mock stream %s on port %d", *name, *port)
	log.Printf("Press Ctrl-C to stop")

	srv := mockstream.New(mockstream.Config{
		Port:          *port,
		Name:          *name,
		FPS:           *fps,
		Binary:        *binary,
		EnableMDNS:    !*noMDNS,
		TrackDuration: *trackDuration,
		EnrichAfter:   *enrichAfter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Printf("Server stopped cleanly")
}
