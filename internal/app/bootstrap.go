// Package app wires the marketd daemon together from its config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace_go/internal/api"
	"marketplace_go/internal/domain"
	"marketplace_go/internal/engine"
	"marketplace_go/internal/feed"
	"marketplace_go/internal/infra"
	"marketplace_go/internal/metrics"
	"marketplace_go/internal/storage"
	"marketplace_go/pkg/quant"
)

// Bootstrap orchestrates the daemon startup sequence.
type Bootstrap struct {
	Config     *infra.Config
	EventStore *storage.EventStore
	Snapshots  *storage.SnapshotManager
	Breaker    *infra.CircuitBreaker
	Registry   *prometheus.Registry
	Sequencer  *engine.Sequencer
	Hub        *feed.Hub
	Server     *http.Server
	Limiter    *infra.KeyedRateLimiter

	closers []func()
}

func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config, claims the workspace, opens storage and
// recovers the ledger. Close releases everything Initialize acquired.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger, closeLog, err := infra.NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	b.closers = append(b.closers, closeLog)
	slog.Info("Bootstrapping marketplace node", slog.String("config", configPath))

	workDir := infra.GetWorkspaceDir()
	if err := infra.EnsureDir(workDir); err != nil {
		return fmt.Errorf("failed to create workspace dir: %w", err)
	}
	infra.ResolveDataPaths(cfg, workDir)
	if err := infra.EnsureDir(filepath.Dir(cfg.Storage.DBPath)); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, unlock)

	evStore, err := storage.NewEventStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.EventStore = evStore
	b.closers = append(b.closers, func() {
		if err := evStore.Close(); err != nil {
			slog.Error("Failed to close event store", slog.Any("error", err))
		}
	})
	slog.Info("EventStore initialized (WAL-mode)", slog.String("path", cfg.Storage.DBPath))

	b.Snapshots = storage.NewSnapshotManager(cfg.Storage.SnapshotDir)
	b.Breaker = infra.NewCircuitBreaker(cfg.BreakerConfig())

	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(b.Registry)

	b.Hub = feed.NewHub(cfg.Engine.FeedSubscriberBuffer, rec)

	b.Sequencer = engine.NewSequencer(engine.Options{
		InboxSize:     cfg.Engine.InboxSize,
		Store:         evStore,
		Snapshots:     b.Snapshots,
		SnapshotEvery: cfg.Storage.SnapshotEvery,
		SnapshotKeep:  cfg.Storage.SnapshotKeep,
		Breaker:       b.Breaker,
		Metrics:       rec,
		OnCommit:      func(c engine.Committed) { b.Hub.Publish(feed.FromCommitted(c)) },
		DumpPath:      filepath.Join(workDir, "panic_dump.json"),
	})
	if err := b.Sequencer.RecoverFromWAL(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	var faucetLimit quant.Lamports
	if cfg.Faucet.Enabled {
		if faucetLimit, err = cfg.FaucetLimit(); err != nil {
			return err
		}
	}
	b.Limiter = infra.NewKeyedRateLimiter(cfg.Server.RateBurst, cfg.Server.RatePerSec)

	srv := api.NewServer(b.Sequencer, api.Options{
		Feed:          b.Hub,
		Subscribers:   b.Hub.Subscribers,
		Metrics:       rec,
		MetricsPath:   promhttp.HandlerFor(b.Registry, promhttp.HandlerOpts{}),
		Limiter:       b.Limiter,
		Breaker:       b.Breaker,
		FaucetEnabled: cfg.Faucet.Enabled,
		FaucetLimit:   faucetLimit,
		SubmitTimeout: cfg.SubmitTimeout(),
	})
	b.Server = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	b.RecordNodeInfo(ctx)
	return nil
}

// RecordNodeInfo stores the identity of this node run in the WAL metadata
// table, so an operator inspecting the database knows what wrote it.
func (b *Bootstrap) RecordNodeInfo(ctx context.Context) {
	now := time.Now().UnixMicro()
	entries := map[string]string{
		"program_id": domain.ProgramID.String(),
		"version":    b.Config.App.Version,
		"started_at": time.UnixMicro(now).UTC().Format(time.RFC3339),
		"last_seq":   fmt.Sprint(b.Sequencer.LastSeq()),
	}
	for k, v := range entries {
		if err := b.EventStore.UpsertMetadata(ctx, "node:"+k, v, now); err != nil {
			slog.Warn("Failed to record node metadata", slog.String("key", k), slog.Any("error", err))
		}
	}
}

// Run serves until ctx is cancelled, then drains the HTTP server, stops the
// sequencer and takes a final snapshot.
func (b *Bootstrap) Run(ctx context.Context) error {
	seqCtx, stopSeq := context.WithCancel(context.Background())
	defer stopSeq()
	go b.Sequencer.Run(seqCtx)

	go b.pruneLimiter(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", b.Server.Addr))
		if err := b.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-b.Sequencer.Done():
		return errors.New("sequencer stopped unexpectedly")
	}

	slog.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}
	b.Hub.Close()

	stopSeq()
	<-b.Sequencer.Done()

	if last := b.Sequencer.LastSeq(); last > 0 {
		if err := b.Sequencer.Snapshot(); err != nil {
			slog.Error("Final snapshot failed", slog.Any("error", err))
		}
	}
	return nil
}

func (b *Bootstrap) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Limiter.Prune(); n > 0 {
				slog.Debug("Pruned idle rate limit buckets", slog.Int("count", n))
			}
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// PrintBanner writes the startup banner to stdout.
func (b *Bootstrap) PrintBanner() {
	infra.PrintBanner(os.Stdout, b.Config, domain.ProgramID.String())
}
