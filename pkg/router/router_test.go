package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssobroker/broker/pkg/observability"
)

const testDomain = "broker.example.com"

// tagHandler writes its tag so tests can see which surface was hit.
func tagHandler(tag string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tag))
	})
}

func newTestRouter(t *testing.T, withTestSP bool) http.Handler {
	t.Helper()

	deps := Deps{
		Domain:  testDomain,
		Logger:  observability.NewNopLogger(),
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
		OIDC:    tagHandler("oidc"),
		SAML:    tagHandler("saml"),
		Version: "test",
	}
	if withTestSP {
		deps.TestSP = tagHandler("testsp")
	}
	return New(deps)
}

func serve(router http.Handler, method, host, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "https://"+host+path, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDispatch(t *testing.T) {
	router := newTestRouter(t, true)

	tests := []struct {
		name string
		host string
		path string
		want string
	}{
		{"oidc tenant subdomain", "github." + testDomain, "/authorize", "oidc"},
		{"oidc tenant any path", "google." + testDomain, "/anything", "oidc"},
		{"oidc path on bare domain", testDomain, "/token", "oidc"},
		{"oidc discovery path", testDomain, "/.well-known/openid-configuration", "oidc"},
		{"saml tenant subdomain", "github-saml." + testDomain, "/saml/sso", "saml"},
		{"saml tenant any path", "github-saml." + testDomain, "/anything", "saml"},
		{"saml path on bare domain", testDomain, "/metadata", "saml"},
		{"saml path prefix", testDomain, "/saml/oauth-callback", "saml"},
		{"test sp never hits saml engine", "test-saml." + testDomain, "/saml/acs", "testsp"},
		{"test sp homepage", "test-saml." + testDomain, "/", "testsp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodGet, tt.host, tt.path)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestDispatchHealthFallback(t *testing.T) {
	router := newTestRouter(t, true)

	rec := serve(router, http.MethodGet, testDomain, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sso-broker", body["service"])

	// Unknown host falls through too.
	rec = serve(router, http.MethodGet, "unrelated.example.org", "/")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDispatchTestSPDisabled(t *testing.T) {
	router := newTestRouter(t, false)

	rec := serve(router, http.MethodGet, "test-saml."+testDomain, "/saml/acs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "saml", rec.Body.String())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCORSHeaders(t *testing.T) {
	router := newTestRouter(t, true)

	rec := serve(router, http.MethodGet, "github."+testDomain, "/authorize")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))

	rec = serve(router, http.MethodOptions, "github."+testDomain, "/authorize")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	router := newTestRouter(t, true)

	rec := serve(router, http.MethodGet, "github."+testDomain, "/authorize")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "https://github."+testDomain+"/authorize", nil)
	req.Host = "github." + testDomain
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	deps := Deps{
		Domain:  testDomain,
		Logger:  observability.NewNopLogger(),
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
		OIDC: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
		SAML:    tagHandler("saml"),
		Version: "test",
	}
	router := New(deps)

	rec := serve(router, http.MethodGet, "github."+testDomain, "/authorize")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}
