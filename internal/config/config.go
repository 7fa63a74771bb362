// Package config loads the environment-driven configuration described
// in spec §6, following the teacher's typed-struct-with-defaults shape
// (internal/config/providers.go) but reading env vars instead of YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tickerfan/tickerfan/internal/viewkey"
)

// Config holds every environment-driven option from spec §6.
type Config struct {
	InitialChartPoints    int
	DefaultPluginChunk    int
	MaxPluginChunksPerGap int
	PollingIntervals      map[viewkey.Kind]time.Duration
	WSPingInterval        time.Duration
	PluginIdleTTL         time.Duration
	RequestTimeout        time.Duration
	TrustedOrigins        []string
	RedisURL              string
	WarehouseURL          string
	HTTPAddr              string
}

// Default returns the configuration with every spec-mandated default
// applied, before environment overrides.
func Default() Config {
	return Config{
		InitialChartPoints:    200,
		DefaultPluginChunk:    500,
		MaxPluginChunksPerGap: 100,
		PollingIntervals: map[viewkey.Kind]time.Duration{
			viewkey.OHLCV:      10 * time.Second,
			viewkey.Trades:     10 * time.Second,
			viewkey.OrderBook:  10 * time.Second,
			viewkey.UserOrders: 10 * time.Second,
		},
		WSPingInterval: 10 * time.Second,
		PluginIdleTTL:  10 * time.Minute,
		RequestTimeout: 30 * time.Second,
		HTTPAddr:       "127.0.0.1:8080",
	}
}

// Load builds a Config from defaults overridden by environment
// variables. It returns an error on any malformed numeric value so
// startup can fail fast (spec §6, Exit codes: "non-zero on fatal
// startup errors").
func Load() (Config, error) {
	cfg := Default()

	if v, err := envInt("INITIAL_CHART_POINTS"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.InitialChartPoints = *v
	}
	if v, err := envInt("DEFAULT_PLUGIN_CHUNK_SIZE"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.DefaultPluginChunk = *v
	}
	if v, err := envInt("MAX_PLUGIN_CHUNKS_PER_GAP"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.MaxPluginChunksPerGap = *v
	}

	for _, pair := range []struct {
		env  string
		kind viewkey.Kind
	}{
		{"POLLING_INTERVAL_OHLCV_SEC", viewkey.OHLCV},
		{"POLLING_INTERVAL_TRADES_SEC", viewkey.Trades},
		{"POLLING_INTERVAL_ORDER_BOOK_SEC", viewkey.OrderBook},
		{"POLLING_INTERVAL_USER_ORDERS_SEC", viewkey.UserOrders},
	} {
		if v, err := envFloat(pair.env); err != nil {
			return cfg, err
		} else if v != nil {
			cfg.PollingIntervals[pair.kind] = time.Duration(*v * float64(time.Second))
		}
	}

	if v, err := envInt("WS_PING_INTERVAL_SEC"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.WSPingInterval = time.Duration(*v) * time.Second
	}
	if v, err := envInt("PLUGIN_IDLE_TTL_SEC"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.PluginIdleTTL = time.Duration(*v) * time.Second
	}
	if v, err := envInt("REQUEST_TIMEOUT_MS"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.RequestTimeout = time.Duration(*v) * time.Millisecond
	}

	if raw := os.Getenv("TRUSTED_ORIGINS"); raw != "" {
		var origins []string
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.TrustedOrigins = origins
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.WarehouseURL = os.Getenv("OHLCV_WAREHOUSE_URL")
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	return cfg, nil
}

func envInt(name string) (*int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s must be an integer, got %q: %w", name, raw, err)
	}
	return &v, nil
}

func envFloat(name string) (*float64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("config: %s must be a number, got %q: %w", name, raw, err)
	}
	return &v, nil
}
