package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ssobroker/broker/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Broker identity and secrets
	Broker BrokerConfig

	// Upstream provider credentials
	Providers ProvidersConfig

	// SAML signing material
	SAML SAMLConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// BrokerConfig holds the broker's identity settings. MasterSecret is the
// only secret the whole credential scheme derives from; it has no default.
type BrokerConfig struct {
	Domain         string
	ExternalScheme string
	Environment    string
	MasterSecret   string
}

// ProvidersConfig holds upstream OAuth app credentials. A provider with an
// empty client id is treated as not configured.
type ProvidersConfig struct {
	GitHubClientID     string
	GitHubClientSecret string

	GoogleClientID     string
	GoogleClientSecret string

	AppleClientID   string
	AppleTeamID     string
	AppleKeyID      string
	ApplePrivateKey string
}

// SAMLConfig holds the IdP signing certificate and key, PEM-encoded.
type SAMLConfig struct {
	Certificate string
	PrivateKey  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Broker:        loadBrokerConfig(),
		Providers:     loadProvidersConfig(),
		SAML:          loadSAMLConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BROKER_HOST", "0.0.0.0"),
		Port:            getEnv("BROKER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BROKER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BROKER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BROKER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BROKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("BROKER_HEALTH_PORT", "9090"),
	}
}

// loadBrokerConfig loads broker identity settings from environment
func loadBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Domain:         getEnv("BROKER_DOMAIN", "sso.broker"),
		ExternalScheme: getEnv("BROKER_EXTERNAL_SCHEME", "https"),
		Environment:    getEnv("BROKER_ENVIRONMENT", "development"),
		MasterSecret:   os.Getenv("BROKER_MASTER_SECRET"),
	}
}

// loadProvidersConfig loads upstream provider credentials from environment
func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		GitHubClientID:     os.Getenv("BROKER_GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("BROKER_GITHUB_CLIENT_SECRET"),

		GoogleClientID:     os.Getenv("BROKER_GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("BROKER_GOOGLE_CLIENT_SECRET"),

		AppleClientID:   os.Getenv("BROKER_APPLE_CLIENT_ID"),
		AppleTeamID:     os.Getenv("BROKER_APPLE_TEAM_ID"),
		AppleKeyID:      os.Getenv("BROKER_APPLE_KEY_ID"),
		ApplePrivateKey: os.Getenv("BROKER_APPLE_PRIVATE_KEY"),
	}
}

// loadSAMLConfig loads SAML signing material from environment
func loadSAMLConfig() SAMLConfig {
	return SAMLConfig{
		Certificate: os.Getenv("BROKER_SAML_CERT"),
		PrivateKey:  os.Getenv("BROKER_SAML_PRIVATE_KEY"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("BROKER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BROKER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BROKER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BROKER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BROKER_OTEL_SERVICE_NAME", "sso-broker"),
		OTelServiceVersion: getEnv("BROKER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BROKER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Broker.MasterSecret == "" {
		return fmt.Errorf("BROKER_MASTER_SECRET is required")
	}
	if c.Broker.Domain == "" {
		return fmt.Errorf("broker domain is required")
	}
	if c.Broker.ExternalScheme != "http" && c.Broker.ExternalScheme != "https" {
		return fmt.Errorf("invalid external scheme: %s (must be http or https)", c.Broker.ExternalScheme)
	}

	if len(c.ConfiguredProviders()) == 0 {
		return fmt.Errorf("at least one upstream provider must be configured")
	}

	// Apple needs the full signing setup, not just the client id.
	if c.Providers.AppleClientID != "" {
		if c.Providers.AppleTeamID == "" || c.Providers.AppleKeyID == "" || c.Providers.ApplePrivateKey == "" {
			return fmt.Errorf("apple provider requires team id, key id, and private key")
		}
	}

	if (c.SAML.Certificate == "") != (c.SAML.PrivateKey == "") {
		return fmt.Errorf("SAML certificate and private key must be set together")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ConfiguredProviders lists the upstream providers with credentials present.
func (c *Config) ConfiguredProviders() []string {
	var providers []string
	if c.Providers.GitHubClientID != "" {
		providers = append(providers, "github")
	}
	if c.Providers.GoogleClientID != "" {
		providers = append(providers, "google")
	}
	if c.Providers.AppleClientID != "" {
		providers = append(providers, "apple")
	}
	return providers
}

// SAMLEnabled reports whether signing material for the SAML engine is set.
func (c *Config) SAMLEnabled() bool {
	return c.SAML.Certificate != "" && c.SAML.PrivateKey != ""
}

// IsProduction reports whether the broker runs in the production
// environment, which silences request logging.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Broker.Environment, "production")
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
