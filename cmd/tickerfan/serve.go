package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickerfan/tickerfan/internal/bus"
	"github.com/tickerfan/tickerfan/internal/config"
	"github.com/tickerfan/tickerfan/internal/httpapi"
	"github.com/tickerfan/tickerfan/internal/metrics"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/plugins/alpaca"
	"github.com/tickerfan/tickerfan/internal/plugins/binance"
	"github.com/tickerfan/tickerfan/internal/plugins/kraken"
	"github.com/tickerfan/tickerfan/internal/registry"
	"github.com/tickerfan/tickerfan/internal/streaming"
	"github.com/tickerfan/tickerfan/internal/subscription"
	"github.com/tickerfan/tickerfan/internal/warehouse"
	"github.com/tickerfan/tickerfan/internal/wsfront"
)

var manifestPath string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fan-out service",
		Long: `Starts the plugin pool, streaming manager, subscription service and
WebSocket front end, and serves them on the configured HTTP address
until an interrupt or SIGTERM is received.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&manifestPath, "plugin-manifest", "", "Path to a plugin manifest YAML file (optional; defaults to every built-in adapter enabled)")
	return cmd
}

// defaultMarkets is consulted when no plugin manifest is supplied, or a
// manifest entry for a plugin key omits Markets.
var defaultMarkets = map[string][]string{
	"kraken":  {"crypto"},
	"binance": {"crypto"},
	"alpaca":  {"equities"},
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	theBus, closeBus, err := buildBus(cfg)
	if err != nil {
		return fmt.Errorf("build bus: %w", err)
	}
	defer closeBus()

	wh, err := buildWarehouse(cfg)
	if err != nil {
		return fmt.Errorf("build warehouse: %w", err)
	}

	pluginRegistry, err := buildPluginRegistry()
	if err != nil {
		return fmt.Errorf("build plugin registry: %w", err)
	}

	pool := pluginapi.NewPool(pluginRegistry, cfg.PluginIdleTTL)

	promReg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(promReg)

	streamingManager := streaming.NewManager(pluginRegistry, pool, theBus, cfg.PollingIntervals, metricsRegistry.StreamingHooks())

	subRegistry := registry.New()
	subService := subscription.New(subscription.Deps{
		Registry:              subRegistry,
		Manager:               streamingManager,
		Plugins:               pluginRegistry,
		Pool:                  pool,
		Warehouse:             wh,
		Bus:                   theBus,
		InitialChartPoints:    cfg.InitialChartPoints,
		DefaultPluginChunk:    cfg.DefaultPluginChunk,
		MaxPluginChunksPerGap: cfg.MaxPluginChunksPerGap,
	})

	wsServer := wsfront.NewServer(subService, wsfront.Config{
		PingInterval:   cfg.WSPingInterval,
		TrustedOrigins: cfg.TrustedOrigins,
		Metrics:        metricsRegistry,
	})

	httpServer := httpapi.NewServer(cfg.HTTPAddr, httpapi.Config{
		WSHandler:      wsServer,
		MetricsHandler: metrics.Handler(promReg),
		TrustedOrigins: cfg.TrustedOrigins,
	})

	activeViewsCtx, stopActiveViews := context.WithCancel(context.Background())
	defer stopActiveViews()
	go reportActiveViews(activeViewsCtx, metricsRegistry, streamingManager)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("tickerfan: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("tickerfan: shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server error: %w", err)
	}

	return shutdown(subService, streamingManager, pool, httpServer)
}

// shutdown tears the service down in the layered order spec §5
// mandates: the per-connection subscription state first (so no new
// activations race the managers below it), then the streaming manager's
// native streams and poll loops, then the plugin pool's pooled
// instances, and finally the HTTP listener itself.
func shutdown(subService *subscription.Service, streamingManager *streaming.Manager, pool *pluginapi.Pool, httpServer *httpapi.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	subService.Shutdown(ctx)
	streamingManager.Shutdown(ctx)
	pool.Shutdown()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("tickerfan: http server shutdown error")
		return err
	}

	log.Info().Msg("tickerfan: shutdown complete")
	return nil
}

func reportActiveViews(ctx context.Context, m *metrics.Registry, sm *streaming.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetActiveViews(sm.ActiveCount())
		}
	}
}

func buildBus(cfg config.Config) (bus.Bus, func(), error) {
	if cfg.RedisURL == "" {
		b := bus.NewMemoryBus()
		return b, func() { _ = b.Close() }, nil
	}
	b, err := bus.NewRedisBus(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis bus: %w", err)
	}
	return b, func() { _ = b.Close() }, nil
}

func buildWarehouse(cfg config.Config) (warehouse.Warehouse, error) {
	if cfg.WarehouseURL == "" {
		return warehouse.NewMemoryWarehouse(), nil
	}
	db, err := sqlx.Connect("postgres", cfg.WarehouseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres warehouse: %w", err)
	}
	return warehouse.NewPostgresWarehouse(db, cfg.RequestTimeout), nil
}

func buildPluginRegistry() (*pluginapi.Registry, error) {
	reg := pluginapi.NewRegistry()

	factories := map[string]pluginapi.Factory{
		"kraken":  kraken.Factory{},
		"binance": binance.Factory{},
		"alpaca":  alpaca.Factory{},
	}
	discoveryOrder := []string{"kraken", "binance", "alpaca"}

	if manifestPath == "" {
		for _, key := range discoveryOrder {
			reg.Register(factories[key], defaultMarkets[key]...)
		}
		return reg, nil
	}

	manifest, err := config.LoadPluginManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	for _, key := range discoveryOrder {
		f := factories[key]
		entry, ok := manifest.Plugins[key]
		if !ok || !entry.Enabled {
			continue
		}
		markets := entry.Markets
		if len(markets) == 0 {
			markets = defaultMarkets[key]
		}
		reg.Register(f, markets...)
	}
	return reg, nil
}
