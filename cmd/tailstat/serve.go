package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/coffersTech/tailstat/internal/registry"
	"github.com/coffersTech/tailstat/internal/server"
)

const version = "0.1.0"

// serve runs the HTTP API until ctx is cancelled.
func serve(ctx context.Context, opts *options) error {
	base := opts.cfg
	resolved := base
	resolved.Mode = engine.ResolveMode(base.Mode, 0, int64(opts.batchLimit.Bytes()))
	if err := resolved.Validate(); err != nil {
		return err
	}

	log.Printf("tailstat %s starting...", version)

	progress := &engine.Progress{}
	progress.StartTicker(ctx, time.Second, nil)
	stats := engine.OpenStatsStore(opts.dataDir, progress)

	srvOpts := server.Options{
		Config:     base,
		BatchLimit: int64(opts.batchLimit.Bytes()),
		APIKeyHash: opts.keyHash,
		Stats:      stats,
		Progress:   progress,
	}
	if opts.coord {
		store := registry.NewStore()
		store.StartCleanupLoop(ctx, 30*time.Second, 3*registry.DefaultHeartbeat)
		srvOpts.Registry = store
		srvOpts.Heartbeat = registry.DefaultHeartbeat
		log.Printf("Accepting node registrations")
	}
	if opts.dataDir != "" {
		spool := filepath.Join(opts.dataDir, "partials")
		if err := os.MkdirAll(spool, 0755); err != nil {
			return err
		}
		srvOpts.SpoolDir = spool
		go engine.RunCleaner(ctx, spool, opts.retention, time.Hour)
		log.Printf("Data: %s, Retention: %v", opts.dataDir, opts.retention)
	}
	srv, err := server.NewAnalysisServer(srvOpts)
	if err != nil {
		return err
	}

	if opts.join != "" {
		if opts.advertise == "" {
			return &engine.ConfigError{Param: "advertise", Reason: "required with -join"}
		}
		hostname, _ := os.Hostname()
		node := registry.Node{
			NodeID:   registry.EnsureNodeID(opts.dataDir),
			Addr:     opts.advertise,
			Hostname: hostname,
			Version:  version,
			Workers:  runtime.GOMAXPROCS(0),
		}
		go registry.NewClient(opts.join, opts.token).Heartbeat(ctx, node)
		log.Printf("Announcing node %s to %s", node.NodeID, opts.join)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(opts.serve)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := <-errCh; err != nil {
		log.Printf("Server stopped: %v", err)
	}
	log.Println("tailstat exited gracefully.")
	return nil
}
