// Package config loads the broker's configuration from BROKER_* environment
// variables into an explicit Config struct, validated once at startup.
//
// The master secret has no default: every credential the broker issues
// derives from it, so starting without one is a hard error. Upstream
// providers are optional individually, but at least one must be configured.
package config
