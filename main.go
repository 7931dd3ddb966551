// ABOUTME: Entry point for the Resonate visualizer client
// ABOUTME: Parses CLI flags, loads configuration and runs the visualizer
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/resonate-vis/internal/app"
	"github.com/Resonate-Protocol/resonate-vis/internal/config"
	"github.com/Resonate-Protocol/resonate-vis/internal/ui"
	"github.com/Resonate-Protocol/resonate-vis/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a YAML config file")
	serverAddr  = flag.String("server", "", "Analysis stream address, ws:// URL or host:port (overrides config)")
	discover    = flag.Bool("discover", false, "Find the server via mDNS instead of the configured address")
	historyURL  = flag.String("history-url", "", "Play history base URL (overrides config)")
	noHistory   = flag.Bool("no-history", false, "Disable the play history panel")
	visualizer  = flag.String("visualizer", "", "Initial visualizer backend")
	auto        = flag.Bool("auto", false, "Follow the track's preferred visualizer")
	fps         = flag.Int("fps", 0, "Render frames per second (overrides config)")
	snapshot    = flag.String("snapshot", "", "Write canvas frames to this PNG when the TUI is disabled")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	mqttBroker  = flag.String("mqtt-broker", "", "Publish now-playing to this MQTT broker, e.g. tcp://localhost:1883")
	logFile     = flag.String("log-file", "", "Log file path (overrides config)")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	useTUI := !cfg.UI.NoTUI

	// Set up logging
	f, err := os.OpenFile(cfg.UI.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
		log.Printf("Starting %s", version.String())
	}

	var tui *ui.TUI
	var controls *ui.Controls
	tuiDone := make(chan error, 1)

	if useTUI {
		controls = ui.NewControls()
		tui = ui.New(controls)
		go func() { tuiDone <- tui.Run() }()
	}

	var frontend app.UI
	if tui != nil {
		frontend = tui
	}

	vis, err := app.New(cfg, frontend, controls)
	if err != nil {
		log.Fatalf("Failed to create visualizer: %v", err)
	}
	if err := vis.Start(); err != nil {
		if tui != nil {
			tui.Stop()
		}
		log.Fatalf("Failed to start visualizer: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for quit from TUI or OS
	select {
	case err := <-tuiDone:
		if err != nil {
			log.Printf("TUI error: %v", err)
		}
		log.Printf("Received quit signal from TUI")
	case <-sigChan:
		log.Printf("Shutdown signal received")
		if tui != nil {
			tui.Stop()
		}
	}

	vis.Stop()
	log.Printf("Visualizer stopped")
}

// applyFlags overrides configuration with explicitly set flags
func applyFlags(cfg *config.Config) {
	if *serverAddr != "" {
		cfg.Server.Addr = *serverAddr
	}
	if *discover {
		cfg.Server.Addr = ""
	}
	if *historyURL != "" {
		cfg.History.URL = *historyURL
	}
	if *noHistory {
		cfg.History.Enabled = false
	}
	if *visualizer != "" {
		cfg.Render.Visualizer = *visualizer
	}
	if *auto {
		cfg.Render.Auto = true
	}
	if *fps > 0 {
		cfg.Render.FPS = *fps
	}
	if *snapshot != "" {
		cfg.Render.Snapshot = *snapshot
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *mqttBroker != "" {
		cfg.MQTT.Broker = *mqttBroker
	}
	if *logFile != "" {
		cfg.UI.LogFile = *logFile
	}
	if *noTUI {
		cfg.UI.NoTUI = true
	}
}
