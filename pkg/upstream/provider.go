package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies an upstream OAuth provider.
type Kind string

const (
	KindGitHub Kind = "github"
	KindGoogle Kind = "google"
	KindApple  Kind = "apple"
)

// ParseKind maps a tenant label to a provider kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindGitHub, KindGoogle, KindApple:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unsupported provider: %s", s)
}

// ErrNoEmail is returned when the provider authenticated the user but no
// email address could be resolved from any of its endpoints.
var ErrNoEmail = errors.New("no email address available from provider")

// Error wraps an upstream provider failure: a non-2xx HTTP response or an
// error field in a token payload.
type Error struct {
	Provider Kind
	Status   int
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s upstream error (status %d): %s", e.Provider, e.Status, e.Message)
}

// Provider is the capability set every upstream adapter implements.
type Provider interface {
	// Kind returns the provider's identity.
	Kind() Kind

	// AuthorizeURL builds the provider's authorization endpoint URL with
	// the given redirect URI and opaque state.
	AuthorizeURL(redirectURI, state string) string

	// Scopes returns the scopes requested from the provider, used by the
	// OIDC discovery document.
	Scopes() []string

	// Email exchanges an authorization code for the user's verified email
	// address. The redirect URI must match the one used at authorize time.
	Email(ctx context.Context, code, redirectURI string) (string, error)
}

// Registry holds the configured providers keyed by kind.
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry creates a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[Kind]Provider, len(providers))
	for _, p := range providers {
		m[p.Kind()] = p
	}
	return &Registry{providers: m}
}

// Lookup returns the provider for a kind, if configured.
func (r *Registry) Lookup(kind Kind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// upstreamTimeout bounds every outbound call to an upstream provider.
// Timeouts surface as upstream errors; nothing is retried.
const upstreamTimeout = 10 * time.Second

// newHTTPClient returns the HTTP client used for upstream calls.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: upstreamTimeout}
}
