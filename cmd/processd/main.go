// Command processd is a local-host process-orchestration server: it spawns
// and supervises child processes on behalf of AI agents, admits spawn
// requests through a priority queue, and exposes a knowledge store and a
// semantically searchable fragment store, all behind a Tool Surface reachable
// over REST, WebSocket, and stdio. Adapted from cmd/factory/main.go's
// flag-parsing + signal-handling + graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/processd/processd/eventbus"
	"github.com/processd/processd/fragment"
	"github.com/processd/processd/hub"
	"github.com/processd/processd/knowledge"
	"github.com/processd/processd/process"
	"github.com/processd/processd/queue"
	"github.com/processd/processd/server"
	"github.com/processd/processd/toolsurface"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		port            = flag.String("port", "8088", "HTTP server port")
		dataDir         = flag.String("data-dir", "./processd-data", "Root directory for the knowledge store, fragment DB, and queue snapshot")
		maxConcurrent   = flag.Int("max-concurrent", 4, "Maximum concurrently running processes")
		maxRetries      = flag.Int("max-retries", 0, "Maximum spawn retries per queue entry")
		logBufferSize   = flag.Int("log-buffer-size", process.DefaultLogBufferSize, "Per-process log ring buffer size")
		stdioMode       = flag.Bool("stdio", false, "Run the stdio tool-call loop instead of the HTTP server")
		showVersion     = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("processd %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New(logger)
	defer bus.Close()

	registry := process.NewRegistry()
	supervisor := process.NewSupervisor(registry, bus, logger, *logBufferSize)

	snapPath := filepath.Join(*dataDir, "queue.json")
	cfg := queue.DefaultConfig()
	cfg.MaxConcurrent = *maxConcurrent
	cfg.MaxRetries = *maxRetries
	scheduler, err := queue.NewScheduler(supervisor, bus, logger, snapPath, cfg)
	if err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	knowledgeRoot := filepath.Join(*dataDir, "knowledge")
	ks, err := knowledge.New(knowledgeRoot, logger)
	if err != nil {
		logger.Error("failed to open knowledge store", "error", err)
		os.Exit(1)
	}

	embedder := fragment.NewEmbedder()
	fragmentDBPath := filepath.Join(*dataDir, "fragments.db")
	fs, err := fragment.NewStore(fragmentDBPath, embedder)
	if err != nil {
		logger.Error("failed to open fragment store", "error", err)
		os.Exit(1)
	}
	defer fs.Close()

	surface := toolsurface.New(registry, supervisor, scheduler, ks, fs)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *stdioMode {
		go func() {
			<-sigCh
			cancel()
		}()
		if err := server.RunStdio(ctx, surface, os.Stdin, os.Stdout, logger); err != nil {
			logger.Error("stdio loop exited with error", "error", err)
			shutdown(scheduler, logger)
			os.Exit(1)
		}
		shutdown(scheduler, logger)
		return
	}

	connHub := hub.New(logger)
	httpServer := server.New(surface, connHub, logger)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		shutdown(scheduler, logger)
	}()

	addr := ":" + *port
	logger.Info("processd starting", "addr", addr, "dataDir", *dataDir, "maxConcurrent", *maxConcurrent)
	if err := httpServer.Start(addr); err != nil && ctx.Err() == nil {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

// shutdown drains the scheduler with a bounded grace window so in-flight
// spawns get a chance to finish before the final queue snapshot is written
// (SPEC_FULL.md §5 Shutdown).
func shutdown(s *queue.Scheduler, logger *slog.Logger) {
	s.Drain(2 * time.Second)
	s.Close()
	logger.Info("processd stopped")
}
