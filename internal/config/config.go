// Package config loads the control plane's runtime configuration from
// environment variables, the same env.Parse struct-tag pattern the
// teacher corpus uses in internal/config/config.go, scoped down to this
// module's own knobs (spec.md §6's environment-knobs table) instead of
// the teacher's HTTP/DB/OIDC/Slack surface.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable named in spec.md §6, loaded from the
// environment with defaults matching the table's parenthesised values.
type Config struct {
	// Mode names the runtime role ("agent" or "standby"), overridable with
	// the --mode flag. app.Build and app.Run do not read it: either value
	// starts the full control plane (store, lease keeper, registries, cache,
	// scheduler, reconcile engine, transport, admin server).
	Mode string `env:"NIMBUSBLOCK_MODE" envDefault:"agent"`

	// Admin server (diagnostics only — spec.md's REST front-end and
	// tenant/auth surface are named Non-goals).
	Host string `env:"NIMBUSBLOCK_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"NIMBUSBLOCK_PORT" envDefault:"8080"`

	// Store (pkg/store) — "store endpoint" / "store op timeout" in the
	// knobs table.
	StoreBackend     string        `env:"STORE_BACKEND" envDefault:"etcd"` // "etcd" or "mem"
	StoreEndpoints   []string      `env:"STORE_ENDPOINTS" envDefault:"localhost:2379" envSeparator:","`
	StoreOpTimeout   time.Duration `env:"STORE_OP_TIMEOUT" envDefault:"5s"`
	ClusterUID       string        `env:"CLUSTER_UID" envDefault:"default"`
	StoreNamespace   string        `env:"STORE_NAMESPACE" envDefault:"nimbusblock"`

	// Lease (pkg/lease) — "lease TTL". LeaseLockKey is not read: app.Build
	// always locks the key builder's "control-plane" lock key.
	LeaseTTL     time.Duration `env:"LEASE_TTL" envDefault:"30s"`
	LeaseLockKey string        `env:"LEASE_LOCK_KEY" envDefault:"control-plane/leader"`
	ExitOnLeaseLoss bool       `env:"EXIT_ON_LEASE_LOSS" envDefault:"false"`

	// Node cache (pkg/nodecache) — "cache period" / "node keep-alive
	// deadline".
	NodeCachePeriod       time.Duration `env:"NODE_CACHE_PERIOD" envDefault:"30s"`
	NodeKeepAliveDeadline time.Duration `env:"NODE_KEEPALIVE_DEADLINE" envDefault:"10s"`
	NodeCacheMaxInFlight  int           `env:"NODE_CACHE_MAX_IN_FLIGHT" envDefault:"8"`

	// Reconcile engine (pkg/reconcile) — "reconcile period" / "reconcile
	// idle period".
	ReconcilePeriod     time.Duration `env:"RECONCILE_PERIOD" envDefault:"10s"`
	ReconcileIdlePeriod time.Duration `env:"RECONCILE_IDLE_PERIOD" envDefault:"30s"`

	// Request handling — "default request timeout" / "max concurrent
	// rebuilds".
	DefaultRequestTimeout time.Duration `env:"DEFAULT_REQUEST_TIMEOUT" envDefault:"30s"`
	MaxConcurrentRebuilds int           `env:"MAX_CONCURRENT_REBUILDS" envDefault:"0"` // 0 = unbounded

	// Transport (pkg/transport/redistransport).
	RedisURL        string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	TransportMajor  string `env:"TRANSPORT_MAJOR_VERSION" envDefault:"v1"`

	// Logging (internal/telemetry), matching the teacher's LOG_LEVEL/
	// LOG_FORMAT knobs exactly.
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics. MetricsPath is not read: internal/adminserver always serves
	// /metrics.
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the admin server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
