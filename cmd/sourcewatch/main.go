// SourceWatch - Steam game server monitor & API
//
// SourceWatch tracks Source and GoldSrc game servers over the Steam query
// protocol, discovers new servers through the master-server browser,
// records player history in SQLite, exposes a REST API, and publishes
// real-time telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/api"
	"github.com/sourcewatch-project/sourcewatch/internal/cli"
	"github.com/sourcewatch-project/sourcewatch/internal/config"
	"github.com/sourcewatch-project/sourcewatch/internal/events"
	"github.com/sourcewatch-project/sourcewatch/internal/store"
	"github.com/sourcewatch-project/sourcewatch/internal/telemetry"
	"github.com/sourcewatch-project/sourcewatch/internal/tracker"
	"github.com/sourcewatch-project/sourcewatch/internal/util"
)

const (
	AppName    = "SourceWatch"
	AppVersion = "1.0.0"
	Banner     = `
   _____                     __          __   _       _
  / ____|                    \ \        / /  | |     | |
 | (___   ___  _   _ _ __ ___ \ \  /\  / /_ _| |_ ___| |__
  \___ \ / _ \| | | | '__/ __| \ \/  \/ / _' | __/ __| '_ \
  ____) | (_) | |_| | | | (__   \  /\  / (_| | || (__| | | |
 |_____/ \___/ \__,_|_|  \___|   \/  \/ \__,_|\__\___|_| |_|
                                                   v%s
 Steam Game Server Monitor & API
`
)

func main() {
	// Print banner
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting SourceWatch")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()

	st, err := store.Open(filepath.Join(cfg.DatabaseDir, "sourcewatch.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	// Seed configured servers into the registry so they show up before
	// the first poll completes.
	for _, addr := range cfg.GetQuery().Servers {
		if err := st.RegisterDiscovered(addr, store.SourceStatic); err != nil {
			log.Warn().Err(err).Str("server", addr).Msg("failed to seed server")
		}
	}

	trk := tracker.New(cfg, st, eventBus)
	apiServer := api.NewServer(cfg, eventBus, st)
	cliHandler := cli.NewCLI(cfg, eventBus, st)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	// Task 1: Tracker (polling, master sweeps, retention)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting tracker")
		trk.Start(ctx)
	}()

	// Task 2: REST API server
	if cfg.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("API server failed")
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: Interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// A 'quit' from the CLI arrives as a shutdown event.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Cancel the root context to signal all goroutines
	cancel()

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("SourceWatch stopped")
}
