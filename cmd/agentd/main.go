package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/agent"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/bus"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/events"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/governor"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/image"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/metrics"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/monitor"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/router"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/session"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentd",
	Short: "agentd - lifecycle daemon for containerized coding agents",
	Long: `agentd runs ephemeral AI coding agents in containers.

It consumes commands from NATS, builds capability-matched worker images on
demand, manages the container lifecycle, relays prompt exchanges to the
agent CLIs, and reports crashes back to the callers that were waiting.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return serve(configPath)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"agentd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().String("config", "", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func serve(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("agentd")
	logger.Info().Str("version", Version).Str("data_dir", cfg.DataDir).Msg("Starting agentd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "")

	eng, err := engine.NewDockerEngine(ctx, cfg.DockerHost)
	if err != nil {
		return err
	}
	defer eng.Close()
	metrics.RegisterComponent("engine", true, "")

	conn, err := bus.Connect(cfg.NATSUrl)
	if err != nil {
		return err
	}
	defer conn.Close()
	metrics.RegisterComponent("bus", true, "")

	broker := events.NewBroker(0)
	defer broker.Close()

	gov := governor.New(store, eng, governor.Config{
		MaxWorkers:      cfg.MaxWorkers,
		QueueOnCapacity: cfg.QueueOnCapacity,
		ImageRetention:  time.Duration(cfg.ImageRetention),
		MaxImages:       cfg.MaxImages,
		GCInterval:      time.Duration(cfg.GCInterval),
	})

	mgr := worker.NewManager(
		store,
		eng,
		image.NewBuilder(eng, store),
		session.NewManager(store, time.Duration(cfg.SessionTTL)),
		agent.NewRegistry(),
		gov,
		broker,
		worker.Config{
			Env:            worker.SpecEnv{NATSUrl: cfg.NATSUrl, APIUrl: cfg.APIUrl},
			Limits:         worker.Limits{NanoCPUs: int64(cfg.Limits.CPUs * 1e9), MemoryBytes: cfg.Limits.MemoryMB << 20},
			DefaultTimeout: time.Duration(cfg.DefaultTimeoutSeconds) * time.Second,
		},
	)

	r := router.New(mgr, store, conn, cfg.Shards)
	r.Start(ctx)

	sub, err := conn.QueueSubscribe(bus.SubjectCommands, bus.QueueGroup, r.Handle)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	go monitor.New(store, eng, conn, broker).Run(ctx)
	go gov.RunGC(ctx)
	go bridgeEvents(broker, conn)
	if cfg.IdlePause > 0 {
		go pauseIdleLoop(ctx, mgr, time.Duration(cfg.IdlePause))
	}

	metrics.SetVersion(Version)
	collector := metrics.NewCollector(store, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	metricsSrv.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("nats_url", cfg.NATSUrl).Str("metrics_addr", cfg.MetricsAddr).Msg("agentd ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	r.Wait()
	return nil
}

// bridgeEvents forwards the in-process lifecycle stream to the bus so
// external consumers see the same events internal subscribers do
func bridgeEvents(broker *events.Broker, publisher bus.Publisher) {
	logger := log.WithComponent("event-bridge")
	for ev := range broker.Subscribe() {
		if err := publisher.PublishJSON(bus.SubjectEvents, ev); err != nil {
			logger.Warn().Err(err).Str("worker_id", ev.WorkerID).Msg("Failed to publish lifecycle event")
		}
	}
}

func pauseIdleLoop(ctx context.Context, mgr *worker.Manager, idleAfter time.Duration) {
	logger := log.WithComponent("idle-pause")
	ticker := time.NewTicker(idleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			paused, err := mgr.PauseIdle(ctx, idleAfter)
			if err != nil {
				logger.Error().Err(err).Msg("Idle pause sweep failed")
				continue
			}
			if paused > 0 {
				logger.Info().Int("paused", paused).Msg("Paused idle workers")
			}
		}
	}
}
