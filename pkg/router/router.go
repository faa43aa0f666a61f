package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/ssobroker/broker/pkg/httputil"
	"github.com/ssobroker/broker/pkg/observability"
)

// testSPLabel is the reserved tenant for the mock service provider. It is
// never routed to the SAML engine even though the label contains "-saml".
const testSPLabel = "test-saml"

// Deps are the handlers and infrastructure the router dispatches across.
// TestSP may be nil when no SAML credentials are configured.
type Deps struct {
	Domain  string
	Logger  *observability.Logger
	Metrics *observability.Metrics
	OIDC    http.Handler
	SAML    http.Handler
	TestSP  http.Handler
	Version string
}

// New builds the broker's top-level handler: protocol dispatch wrapped in
// the CORS, request-id, logging, recovery and metrics middleware.
func New(deps Deps) http.Handler {
	dispatch := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		label := tenantLabel(r.Host, deps.Domain)
		path := r.URL.Path

		switch {
		case label == testSPLabel:
			if deps.TestSP != nil {
				deps.TestSP.ServeHTTP(w, r)
				return
			}
			writeHealth(w, deps.Version)

		case strings.Contains(label, "-saml") || isSAMLPath(path):
			deps.SAML.ServeHTTP(w, r)

		case label != "" || isOIDCPath(path):
			deps.OIDC.ServeHTTP(w, r)

		default:
			writeHealth(w, deps.Version)
		}
	})

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.CORSMiddleware,
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		observability.HTTPMetricsMiddleware(deps.Metrics),
	)
	return chain(dispatch)
}

// tenantLabel extracts the subdomain label under the tenant domain, or ""
// when the host is not a tenant host.
func tenantLabel(host, domain string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	label, found := strings.CutSuffix(host, "."+domain)
	if !found || label == "" || strings.Contains(label, ".") {
		return ""
	}
	return label
}

func isSAMLPath(path string) bool {
	return path == "/saml" || strings.HasPrefix(path, "/saml/") || path == "/metadata"
}

func isOIDCPath(path string) bool {
	if strings.HasPrefix(path, "/.well-known/") {
		return true
	}
	switch path {
	case "/register", "/authorize", "/callback", "/consent", "/token":
		return true
	}
	return false
}

func writeHealth(w http.ResponseWriter, version string) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "sso-broker",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
