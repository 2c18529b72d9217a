package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/logiflow/delivery-gateway/internal/audit"
	"github.com/logiflow/delivery-gateway/internal/auth"
	"github.com/logiflow/delivery-gateway/internal/config"
	"github.com/logiflow/delivery-gateway/internal/gateway"
	"github.com/logiflow/delivery-gateway/internal/observe"
	"github.com/logiflow/delivery-gateway/internal/server"
	"github.com/logiflow/delivery-gateway/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func configureServerRoutes(svc *gateway.Service) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	auditor := audit.Middleware()

	queryMiddleware := alice.New(requestLimiter, auditor, svc.Middleware())
	mutationMiddleware := alice.New(requestLimiter, auditor)
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("GET /orders", queryMiddleware.Then(handleListOrders(svc)))
	mux.Handle("GET /orders/{id}", queryMiddleware.Then(handleGetOrder(svc)))
	mux.Handle("GET /orders/{id}/incidents", queryMiddleware.Then(handleOrderIncidents(svc)))
	mux.Handle("GET /incidents/{id}", queryMiddleware.Then(handleGetIncident(svc)))
	mux.Handle("GET /users/{id}", queryMiddleware.Then(handleGetUser(svc)))
	mux.Handle("GET /fleet/{zone}/active", queryMiddleware.Then(handleActiveFleet(svc)))
	mux.Handle("GET /fleet/{zone}/summary", queryMiddleware.Then(handleFleetSummary(svc)))
	mux.Handle("GET /kpis/{zone}", queryMiddleware.Then(handleZoneKPIs(svc)))
	mux.Handle("GET /kpis/daily/{date}", queryMiddleware.Then(handleDailyKPIs(svc)))
	mux.Handle("GET /kpis/city/{city}", queryMiddleware.Then(handleCityKPIs(svc)))
	mux.Handle("GET /cache-metrics", standardRouteMiddleware.Then(handleCacheMetrics(svc)))

	mux.Handle("POST /orders/{id}/assign", mutationMiddleware.Then(handleAssignOrder(svc)))
	mux.Handle("POST /orders/{id}/cancel", mutationMiddleware.Then(handleCancelOrder(svc)))
	mux.Handle("POST /incidents", mutationMiddleware.Then(handleRegisterIncident(svc)))
	mux.Handle("PATCH /users/{id}/contact", mutationMiddleware.Then(handleUpdateContact(svc)))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

// configureGateway builds the upstream clients and the service aggregating
// them. Upstream calls made by the service carry the credential held by
// credentials.
func configureGateway(cfg config.Config, policy config.CachePolicy, transport http.RoundTripper, credentials auth.Credentials) (*gateway.Service, error) {
	hc := &http.Client{
		Transport: &auth.Transport{Base: transport, Credentials: credentials},
		Timeout:   cfg.Server.UpstreamTimeout,
	}

	backends := gateway.Backends{
		Orders:    upstream.NewOrders(cfg.Upstream.OrdersURL, hc),
		Fleet:     upstream.NewFleet(cfg.Upstream.FleetURL, hc),
		Tracking:  upstream.NewTracking(cfg.Upstream.TrackingURL, hc),
		Incidents: upstream.NewIncidents(cfg.Upstream.OrdersURL, hc),
		Identity:  upstream.NewIdentity(cfg.Upstream.AuthURL, hc),
	}

	return gateway.NewService(backends, policy, cfg.Cache.MaxSize,
		gateway.WithDriverBatchSize(cfg.Upstream.DriverBatchSize),
	)
}

// identityLogin logs in to the identity service with the configured service
// account.
func identityLogin(identity *upstream.Identity, cfg config.AuthConfig) auth.LoginFunc {
	return func(ctx context.Context) (auth.Token, error) {
		result, err := identity.Login(ctx, cfg.Username, cfg.Password)
		if err != nil {
			var statusErr *upstream.StatusError
			if errors.As(err, &statusErr) {
				return auth.Token{}, &auth.LoginError{StatusCode: statusErr.Code, Message: statusErr.Message}
			}
			return auth.Token{}, err
		}

		return auth.Token{
			AccessToken: result.AccessToken,
			ExpiresIn:   time.Duration(result.ExpiresIn) * time.Second,
		}, nil
	}
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	policy, err := config.LoadPolicy(cfg.Cache.PolicyFile)
	if err != nil {
		return fmt.Errorf("cache policy load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", func(ctx context.Context) error {
		return shutdownTelemetry(ctx)
	})

	transport := observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)

	// the login call itself is made without a credential
	identity := upstream.NewIdentity(cfg.Upstream.AuthURL, &http.Client{
		Transport: transport,
		Timeout:   cfg.Server.UpstreamTimeout,
	})

	credentials := auth.NewManager(cfg.Auth, identityLogin(identity, cfg.Auth))
	if err := credentials.Initialize(ctx); err != nil {
		return fmt.Errorf("service authentication failed: %w", err)
	}
	hooks.AddFunc("auth", credentials.Shutdown)

	svc, err := configureGateway(cfg, policy, transport, credentials)
	if err != nil {
		return fmt.Errorf("gateway configuration failed: %w", err)
	}
	log.Info().Strs("caches", svc.Registry().Names()).Msg("query caches configured")

	// start the server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           configureServerRoutes(svc),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	err = server.Serve(ctx, srv, shutdownTimeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
