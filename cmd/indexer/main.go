// Main indexer service: wires one supervisor per configured bridge,
// each driving per-chain log streams into the shared tiered message buffer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/blockscout/interchain-indexer/internal/checkpoint"
	"github.com/blockscout/interchain-indexer/internal/config"
	"github.com/blockscout/interchain-indexer/internal/notify"
	"github.com/blockscout/interchain-indexer/internal/obs"
	"github.com/blockscout/interchain-indexer/internal/rpc"
	"github.com/blockscout/interchain-indexer/internal/store/postgres"
	"github.com/blockscout/interchain-indexer/internal/supervisor"
)

func main() {
	logger := obs.NewLogger("interchain-indexer")
	logger.Info().Msg("starting interchain indexer")

	configPath := "config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}
	obs.SetLevel(logger, cfg.LogLevel)

	logger.Info().
		Int32("bridge_id", cfg.BridgeID).
		Int("chains", len(cfg.Chains)).
		Msg("loaded configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients := make(map[int64]rpc.Client, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		client, err := rpc.Dial(chainCfg.RPCURL, chainCfg.WSURL, chainCfg.ChainID, logger)
		if err != nil {
			logger.Fatal().Err(err).Int64("chain_id", chainCfg.ChainID).Msg("failed to dial chain")
		}
		defer client.Close()
		clients[chainCfg.ChainID] = client
	}

	pgStore, err := postgres.Connect(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pgStore.Close()

	cpStore, err := newCheckpointStore(*cfg, pgStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize checkpoint store")
	}
	defer cpStore.Close()

	publisher, err := notify.NewPublisher(cfg.NATSUrl, 24*time.Hour, "INTERCHAIN", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create notify publisher")
	}
	defer publisher.Close()

	sup, err := supervisor.New(*cfg, clients, pgStore, cpStore, publisher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build supervisor")
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", cfg.MetricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: http.HandlerFunc(healthCheckHandler(sup, publisher))}
	go func() {
		logger.Info().Str("address", cfg.HealthAddr).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	if err := sup.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start supervisor")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	logger.Info().Msg("shutting down")
	sup.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// newCheckpointStore selects the checkpoint backend per config, defaulting
// to the postgres-backed implementation sharing pgStore's pool.
func newCheckpointStore(cfg config.Config, pgStore *postgres.Store, logger zerolog.Logger) (checkpoint.Store, error) {
	switch cfg.CheckpointBackend {
	case "bolt":
		return checkpoint.NewBoltStore(cfg.CheckpointPath)
	case "postgres", "":
		return postgres.NewCheckpointStore(pgStore), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}

// healthCheckHandler reports 200 only when the supervisor is running and
// the notify publisher's connection is up.
func healthCheckHandler(sup *supervisor.Supervisor, pub *notify.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := sup.Status()
		if status.State != supervisor.StateRunning || !pub.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy\nstate: %s\n", status.State)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy\nstate: %s\nhot_entries: %v\n", status.State, status.ExtraInfo["hot_entries"])
	}
}
