package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ssobroker/broker/pkg/config"
	"github.com/ssobroker/broker/pkg/consent"
	"github.com/ssobroker/broker/pkg/credential"
	"github.com/ssobroker/broker/pkg/oidc"
	"github.com/ssobroker/broker/pkg/observability"
	"github.com/ssobroker/broker/pkg/router"
	"github.com/ssobroker/broker/pkg/saml"
	"github.com/ssobroker/broker/pkg/testsp"
	"github.com/ssobroker/broker/pkg/upstream"
)

const version = "1.0.0"

func main() {
	startup := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		startup.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewRuntimeLogger(cfg.Observability.LogLevel, cfg.IsProduction())

	codec, err := credential.NewCodec(cfg.Broker.MasterSecret)
	if err != nil {
		startup.Fatalf("Failed to initialize credential codec: %v", err)
	}

	presenter, err := consent.NewPresenter()
	if err != nil {
		startup.Fatalf("Failed to initialize consent presenter: %v", err)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		startup.Fatalf("Failed to initialize upstream providers: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry)

	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		startup.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	oidcRouter := newOIDCRouter(codec, providers, presenter, cfg, metrics)
	samlRouter, testSPRouter := newSAMLRouters(codec, providers, presenter, cfg, metrics, startup)

	handler := router.New(router.Deps{
		Domain:  cfg.Broker.Domain,
		Logger:  logger,
		Metrics: metrics,
		OIDC:    oidcRouter,
		SAML:    samlRouter,
		TestSP:  testSPRouter,
		Version: version,
	})
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "broker")
	}

	mainServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(version, cfg.ConfiguredProviders()))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, mainServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startup.Fatalf("Health server failed: %v", err)
		}
	}()

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":      mainServer.Addr,
			"domain":    cfg.Broker.Domain,
			"providers": cfg.ConfiguredProviders(),
			"saml":      cfg.SAMLEnabled(),
		}).Info("broker listening")
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startup.Fatalf("Server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		startup.Fatalf("Shutdown failed: %v", err)
	}
}

// buildProviders creates the upstream adapter for every configured provider.
func buildProviders(cfg *config.Config) (*upstream.Registry, error) {
	var adapters []upstream.Provider

	if cfg.Providers.GitHubClientID != "" {
		adapters = append(adapters, upstream.NewGitHub(upstream.GitHubConfig{
			ClientID:     cfg.Providers.GitHubClientID,
			ClientSecret: cfg.Providers.GitHubClientSecret,
		}))
	}
	if cfg.Providers.GoogleClientID != "" {
		adapters = append(adapters, upstream.NewGoogle(upstream.GoogleConfig{
			ClientID:     cfg.Providers.GoogleClientID,
			ClientSecret: cfg.Providers.GoogleClientSecret,
		}))
	}
	if cfg.Providers.AppleClientID != "" {
		apple, err := upstream.NewApple(upstream.AppleConfig{
			ClientID:   cfg.Providers.AppleClientID,
			TeamID:     cfg.Providers.AppleTeamID,
			KeyID:      cfg.Providers.AppleKeyID,
			PrivateKey: cfg.Providers.ApplePrivateKey,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, apple)
	}

	return upstream.NewRegistry(adapters...), nil
}

func newOIDCRouter(codec *credential.Codec, providers *upstream.Registry, presenter *consent.Presenter, cfg *config.Config, metrics *observability.Metrics) http.Handler {
	r := mux.NewRouter()
	oidc.NewEngine(codec, providers, presenter, cfg.Broker.Domain, cfg.Broker.ExternalScheme, metrics).RegisterRoutes(r)
	return r
}

// newSAMLRouters builds the SAML engine and, when signing material exists,
// the mock SP. Without a certificate both surfaces stay dark.
func newSAMLRouters(codec *credential.Codec, providers *upstream.Registry, presenter *consent.Presenter, cfg *config.Config, metrics *observability.Metrics, startup *logrus.Logger) (samlHandler, testSPHandler http.Handler) {
	var signer *saml.Signer
	if cfg.SAMLEnabled() {
		var err error
		signer, err = saml.NewSigner(cfg.SAML.Certificate, cfg.SAML.PrivateKey)
		if err != nil {
			startup.Fatalf("Failed to initialize SAML signer: %v", err)
		}
	}

	samlRouter := mux.NewRouter()
	saml.NewEngine(codec, providers, presenter, signer, cfg.Broker.Domain, cfg.Broker.ExternalScheme, metrics).RegisterRoutes(samlRouter)

	if signer == nil {
		return samlRouter, nil
	}

	sp, err := testsp.NewHandler(testsp.Config{
		Domain:        cfg.Broker.Domain,
		Scheme:        cfg.Broker.ExternalScheme,
		BrokerCertPEM: cfg.SAML.Certificate,
	})
	if err != nil {
		startup.Fatalf("Failed to initialize test SP: %v", err)
	}
	spRouter := mux.NewRouter()
	sp.RegisterRoutes(spRouter)
	return samlRouter, spRouter
}
