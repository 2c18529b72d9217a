package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Auth     AuthConfig
	Cache    CacheConfig
	Observe  ObserveConfig
	Server   ServerConfig
	Upstream UpstreamConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=4000"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int           `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int           `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
	UpstreamTimeout             time.Duration `env:"UPSTREAM_HTTP_TIMEOUT, default=5s"`
}

// UpstreamConfig holds the base URLs of the backend services the gateway
// aggregates.
type UpstreamConfig struct {
	OrdersURL   string `env:"ORDERS_SERVICE_URL, default=http://localhost:8084"`
	FleetURL    string `env:"FLEET_SERVICE_URL, default=http://localhost:8083"`
	TrackingURL string `env:"TRACKING_SERVICE_URL, default=http://localhost:8090"`
	AuthURL     string `env:"AUTH_SERVICE_URL, default=http://localhost:8081"`

	// DriverBatchSize caps the number of drivers fetched in one batch while
	// resolving a request. Zero leaves batches unbounded.
	DriverBatchSize int `env:"FLEET_DRIVER_BATCH_SIZE, default=50"`
}

// AuthConfig describes the fixed service identity the gateway logs in with,
// and the schedule used to keep its token fresh.
type AuthConfig struct {
	Username string `env:"AUTH_USERNAME, default=admin"`
	Password string `env:"AUTH_PASSWORD, default=admin123"`

	// TokenLifetime is assumed when the issued token does not state its own
	// expiry.
	TokenLifetime time.Duration `env:"AUTH_TOKEN_LIFETIME, default=60m"`

	// RefreshMargin is subtracted from the token lifetime to schedule a
	// proactive refresh.
	RefreshMargin time.Duration `env:"AUTH_REFRESH_MARGIN, default=10m"`

	// RetryInterval is the delay between attempts after a failed refresh.
	RetryInterval time.Duration `env:"AUTH_RETRY_INTERVAL, default=5m"`
}

// CacheConfig specifies the query cache configuration.
type CacheConfig struct {
	// MaxSize bounds the number of entries held by each cache family.
	MaxSize int `env:"CACHE_MAX_SIZE, default=10000"`

	// PolicyFile optionally points to a YAML document overriding the default
	// per-operation TTLs. See LoadPolicy.
	PolicyFile string `env:"CACHE_POLICY_FILE"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=delivery-gateway"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Auth.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid auth configuration: %w", err)
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	if cfg.Upstream.DriverBatchSize < 0 {
		return cfg, fmt.Errorf("FLEET_DRIVER_BATCH_SIZE must not be negative, got %d", cfg.Upstream.DriverBatchSize)
	}

	return cfg, nil
}

// RefreshInterval is the delay between a successful login and the next
// scheduled refresh.
func (c AuthConfig) RefreshInterval() time.Duration {
	return c.TokenLifetime - c.RefreshMargin
}

// Validate checks that the refresh schedule is usable.
func (c *AuthConfig) Validate() error {
	if c.Username == "" {
		return errors.New("AUTH_USERNAME must not be empty")
	}

	if c.TokenLifetime <= 0 {
		return fmt.Errorf("AUTH_TOKEN_LIFETIME must be positive, got %s", c.TokenLifetime)
	}

	if c.RefreshMargin < 0 || c.RefreshMargin >= c.TokenLifetime {
		return fmt.Errorf("AUTH_REFRESH_MARGIN (%s) must be non-negative and less than AUTH_TOKEN_LIFETIME (%s)", c.RefreshMargin, c.TokenLifetime)
	}

	if c.RetryInterval <= 0 {
		return fmt.Errorf("AUTH_RETRY_INTERVAL must be positive, got %s", c.RetryInterval)
	}

	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("CACHE_MAX_SIZE must be positive, got %d", c.MaxSize)
	}

	return nil
}
