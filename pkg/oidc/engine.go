package oidc

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ssobroker/broker/pkg/consent"
	"github.com/ssobroker/broker/pkg/credential"
	"github.com/ssobroker/broker/pkg/httputil"
	"github.com/ssobroker/broker/pkg/observability"
	"github.com/ssobroker/broker/pkg/upstream"
)

const (
	// flowStateValidity bounds the whole authorize-to-consent round trip
	// through the upstream provider.
	flowStateValidity = time.Hour

	accessTokenTTLSeconds = 3600
)

// grantValidity is the redemption window for an authorization code. Replay
// within the window is accepted: with no store there is nothing to mark a
// code as used. Variable so tests can shrink the window.
var grantValidity = 5 * time.Minute

// Engine serves the OIDC provider endpoints for every tenant subdomain.
type Engine struct {
	codec     *credential.Codec
	providers *upstream.Registry
	presenter *consent.Presenter
	domain    string
	scheme    string
	metrics   *observability.Metrics
}

// NewEngine creates an OIDC engine.
func NewEngine(codec *credential.Codec, providers *upstream.Registry, presenter *consent.Presenter, domain, scheme string, metrics *observability.Metrics) *Engine {
	return &Engine{
		codec:     codec,
		providers: providers,
		presenter: presenter,
		domain:    domain,
		scheme:    scheme,
		metrics:   metrics,
	}
}

// RegisterRoutes registers the OIDC endpoints on the given router.
func (e *Engine) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/.well-known/openid-configuration", e.handleDiscovery).Methods(http.MethodGet)
	r.HandleFunc("/register", e.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/authorize", e.handleAuthorize).Methods(http.MethodGet)
	r.HandleFunc("/callback", e.handleCallback).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/consent", e.handleConsent).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/token", e.handleToken).Methods(http.MethodPost)
}

// provider resolves the tenant subdomain of the request host to a
// configured upstream provider.
func (e *Engine) provider(r *http.Request) (upstream.Provider, bool) {
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	label, found := strings.CutSuffix(host, "."+e.domain)
	if !found || label == "" || strings.Contains(label, ".") {
		return nil, false
	}

	kind, err := upstream.ParseKind(label)
	if err != nil {
		return nil, false
	}
	return e.providers.Lookup(kind)
}

// origin rebuilds the external origin of the request.
func (e *Engine) origin(r *http.Request) string {
	return e.scheme + "://" + r.Host
}

func (e *Engine) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	provider, ok := e.provider(r)
	if !ok {
		httputil.WriteNotFound(w, "OIDC provider not found for this subdomain")
		return
	}

	origin := e.origin(r)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                origin,
		"authorization_endpoint":                origin + "/authorize",
		"token_endpoint":                        origin + "/token",
		"registration_endpoint":                 origin + "/register",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"HS256"},
		"scopes_supported":                      provider.Scopes(),
		"claims_supported":                      []string{"sub", "email"},
	})
}

type registrationRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

func (e *Engine) handleRegister(w http.ResponseWriter, r *http.Request) {
	if _, ok := e.provider(r); !ok {
		httputil.WriteNotFound(w, "OIDC provider not found for this subdomain")
		return
	}

	var req registrationRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "Invalid JSON in request body")
		return
	}
	if len(req.RedirectURIs) == 0 {
		httputil.WriteBadRequest(w, "Invalid client metadata: redirect_uris is required")
		return
	}
	if req.ClientName == "" {
		httputil.WriteBadRequest(w, "Invalid client metadata: client_name is required")
		return
	}

	clientID, err := e.codec.IssueClientID(req.ClientName, req.RedirectURIs)
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}

	// The freshly minted id is the only carrier of the app GUID; decode it
	// back to derive the matching secret.
	identity, err := e.codec.VerifyClientID(clientID)
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}

	e.metrics.ClientsRegisteredTotal.Inc()
	observability.FromContext(r.Context()).WithField("client_name", req.ClientName).Info("client registered")

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"client_id":     clientID,
		"client_secret": e.codec.ClientSecret(identity.AppGUID),
		"client_name":   req.ClientName,
		"redirect_uris": req.RedirectURIs,
	})
}

func (e *Engine) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	provider, ok := e.provider(r)
	if !ok {
		httputil.WriteNotFound(w, "OIDC provider not found for this subdomain")
		return
	}

	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	clientID := q.Get("client_id")

	if redirectURI == "" {
		httputil.WriteBadRequest(w, "Missing required parameter: redirect_uri")
		return
	}
	if clientID == "" {
		httputil.WriteBadRequest(w, "Missing required parameter: client_id")
		return
	}

	identity, err := e.codec.VerifyClientID(clientID)
	if err != nil {
		httputil.WriteUnauthorized(w, "Invalid client ID")
		return
	}
	if !identity.HasRedirectURI(redirectURI) {
		httputil.WriteBadRequest(w, "Invalid redirect_uri")
		return
	}

	stateBytes, err := encodeFlowState(flowState{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		ClientState: q.Get("state"),
	})
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}
	stateToken, err := e.codec.IssueContinuation(stateBytes)
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}

	http.Redirect(w, r, provider.AuthorizeURL(e.origin(r)+"/callback", stateToken), http.StatusFound)
}

func (e *Engine) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := e.provider(r)
	if !ok {
		httputil.WriteNotFound(w, "OIDC provider not found for this subdomain")
		return
	}

	// Apple posts the callback as a form; the other providers use query
	// parameters. FormValue reads both.
	if upstreamErr := r.FormValue("error"); upstreamErr != "" {
		e.metrics.FlowsTotal.WithLabelValues("oidc", string(provider.Kind()), "error").Inc()
		httputil.WriteBadRequest(w, "OAuth provider error: "+upstreamErr)
		return
	}

	code := r.FormValue("code")
	stateToken := r.FormValue("state")
	if code == "" {
		httputil.WriteBadRequest(w, "Missing authorization code from OAuth provider")
		return
	}
	if stateToken == "" {
		httputil.WriteBadRequest(w, "Missing state parameter from OAuth provider")
		return
	}

	st, err := e.verifyFlowState(stateToken)
	if err != nil {
		e.writeStateError(w, err)
		return
	}

	// Fold the upstream code into the state so /consent can redeem it.
	st.UpstreamCode = code
	stateBytes, err := encodeFlowState(st)
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}
	updatedToken, err := e.codec.IssueContinuation(stateBytes)
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}

	e.renderConsent(w, r, provider, st, updatedToken)
}

// renderConsent shows the consent page. The app name is recovered from the
// opaque client id; when verification fails the raw id is shown instead,
// matching display-only trust.
func (e *Engine) renderConsent(w http.ResponseWriter, r *http.Request, provider upstream.Provider, st flowState, stateToken string) {
	appName := st.ClientID
	if name, err := e.codec.PeekClientName(st.ClientID); err == nil && name != "" {
		appName = name
	}

	consentURL := e.origin(r) + "/consent"
	escaped := url.QueryEscape(stateToken)

	w.Header().Set("Content-Type", "text/html")
	err := e.presenter.Render(w, consent.Data{
		Title:       "Authorization",
		Heading:     "Authorize Application",
		Description: "This application wants to access your account information.",
		AppName:     appName,
		Protocol:    "oidc",
		Provider:    string(provider.Kind()),
		RedirectURI: st.RedirectURI,
		AllowURL:    consentURL + "?consent=allow&state=" + escaped,
		DenyURL:     consentURL + "?consent=deny&state=" + escaped,
	})
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("consent render failed")
	}
}

func (e *Engine) handleConsent(w http.ResponseWriter, r *http.Request) {
	provider, ok := e.provider(r)
	if !ok {
		httputil.WriteNotFound(w, "OIDC provider not found for this subdomain")
		return
	}

	q := r.URL.Query()
	decision := q.Get("consent")
	stateToken := q.Get("state")
	if decision == "" || stateToken == "" {
		httputil.WriteBadRequest(w, "Missing consent or state parameter")
		return
	}

	st, err := e.verifyFlowState(stateToken)
	if err != nil {
		e.writeStateError(w, err)
		return
	}

	switch decision {
	case "deny":
		e.metrics.FlowsTotal.WithLabelValues("oidc", string(provider.Kind()), "denied").Inc()

		redirect, err := url.Parse(st.RedirectURI)
		if err != nil {
			httputil.WriteBadRequest(w, "Invalid redirect_uri")
			return
		}
		params := redirect.Query()
		params.Set("error", "access_denied")
		params.Set("error_description", "User denied the request")
		if st.ClientState != "" {
			params.Set("state", st.ClientState)
		}
		redirect.RawQuery = params.Encode()
		http.Redirect(w, r, redirect.String(), http.StatusFound)

	case "allow":
		e.completeFlow(w, r, provider, st)

	default:
		httputil.WriteBadRequest(w, "Invalid consent value")
	}
}

// completeFlow redeems the upstream code for an email and redirects back to
// the relying party with a freshly minted authorization code.
func (e *Engine) completeFlow(w http.ResponseWriter, r *http.Request, provider upstream.Provider, st flowState) {
	logger := observability.FromContext(r.Context())
	kind := string(provider.Kind())

	identity, err := e.codec.VerifyClientID(st.ClientID)
	if err != nil {
		httputil.WriteUnauthorized(w, "Invalid client ID")
		return
	}

	start := time.Now()
	email, err := provider.Email(r.Context(), st.UpstreamCode, e.origin(r)+"/callback")
	e.metrics.UpstreamExchangeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.UpstreamExchangesTotal.WithLabelValues(kind, "error").Inc()
		e.metrics.UpstreamErrorsTotal.WithLabelValues(kind).Inc()
		e.metrics.FlowsTotal.WithLabelValues("oidc", kind, "error").Inc()
		logger.WithError(err).WithField("provider", kind).Error("upstream exchange failed")
		httputil.WriteBadGateway(w, "Failed to get user email from provider")
		return
	}
	e.metrics.UpstreamExchangesTotal.WithLabelValues(kind, "success").Inc()

	grantBytes, err := encodeGrant(grant{Email: email, ClientID: st.ClientID})
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), logger, err)
		return
	}
	code, err := e.codec.IssueContinuationWithKey(grantBytes, e.codec.ClientSecret(identity.AppGUID))
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), logger, err)
		return
	}

	e.metrics.FlowsTotal.WithLabelValues("oidc", kind, "allowed").Inc()

	redirect, err := url.Parse(st.RedirectURI)
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid redirect_uri")
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	if st.ClientState != "" {
		params.Set("state", st.ClientState)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (e *Engine) handleToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := e.provider(r); !ok {
		httputil.WriteNotFound(w, "OIDC provider not found for this subdomain")
		return
	}

	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "Invalid form body")
		return
	}

	if r.PostFormValue("grant_type") != "authorization_code" {
		e.metrics.TokenFailuresTotal.WithLabelValues("unsupported_grant_type").Inc()
		httputil.WriteBadRequest(w, "Unsupported grant type")
		return
	}

	code := r.PostFormValue("code")
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	redirectURI := r.PostFormValue("redirect_uri")
	if code == "" || clientID == "" || clientSecret == "" || redirectURI == "" {
		e.metrics.TokenFailuresTotal.WithLabelValues("missing_parameters").Inc()
		httputil.WriteBadRequest(w, "Missing required parameters")
		return
	}

	identity, err := e.codec.VerifyClientCredentials(clientID, clientSecret)
	if err != nil {
		e.metrics.TokenFailuresTotal.WithLabelValues("invalid_client").Inc()
		httputil.WriteUnauthorized(w, "Invalid client credentials")
		return
	}
	if !identity.HasRedirectURI(redirectURI) {
		e.metrics.TokenFailuresTotal.WithLabelValues("invalid_redirect_uri").Inc()
		httputil.WriteBadRequest(w, "Invalid redirect_uri")
		return
	}

	grantBytes, _, err := e.codec.VerifyContinuationWithKey(code, clientSecret, grantValidity)
	if err != nil {
		if errors.Is(err, credential.ErrExpired) {
			e.metrics.TokenFailuresTotal.WithLabelValues("expired_code").Inc()
			httputil.WriteUnauthorized(w, "Authorization code expired")
			return
		}
		e.metrics.TokenFailuresTotal.WithLabelValues("invalid_code").Inc()
		httputil.WriteUnauthorized(w, "Invalid authorization code")
		return
	}
	g, err := decodeGrant(grantBytes)
	if err != nil || g.ClientID != clientID {
		e.metrics.TokenFailuresTotal.WithLabelValues("invalid_code").Inc()
		httputil.WriteUnauthorized(w, "Invalid authorization code")
		return
	}

	accessToken, err := e.codec.IssueAccessToken()
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}
	idToken, err := e.codec.IssueIDToken(g.Email, clientID, e.origin(r))
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}

	e.metrics.TokensIssuedTotal.WithLabelValues("id_token").Inc()

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   accessTokenTTLSeconds,
		"id_token":     idToken,
	})
}

// verifyFlowState decrypts and decodes a flow state token.
func (e *Engine) verifyFlowState(token string) (flowState, error) {
	payload, _, err := e.codec.VerifyContinuation(token, flowStateValidity)
	if err != nil {
		return flowState{}, err
	}
	return decodeFlowState(payload)
}

// writeStateError maps a state token failure onto the response.
func (e *Engine) writeStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, credential.ErrExpired) {
		httputil.WriteUnauthorized(w, "State parameter expired")
		return
	}
	httputil.WriteBadRequest(w, "Invalid state parameter")
}
