package saml

import (
	"encoding/base64"
	"errors"
	"html/template"
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

// flowStateValidity bounds the round trip through the upstream provider.
const flowStateValidity = time.Hour

// tenantSuffix marks a SAML tenant label, e.g. github-saml.
const tenantSuffix = "-saml"

// Engine serves the SAML identity provider endpoints for every
// <provider>-saml tenant subdomain.
type Engine struct {
	codec     *credential.Codec
	providers *upstream.Registry
	presenter *consent.Presenter
	signer    *Signer
	domain    string
	scheme    string
	metrics   *observability.Metrics
}

// NewEngine creates a SAML engine. The signer may be nil when no SAML
// credentials are configured; every endpoint then answers 404.
func NewEngine(codec *credential.Codec, providers *upstream.Registry, presenter *consent.Presenter, signer *Signer, domain, scheme string, metrics *observability.Metrics) *Engine {
	return &Engine{
		codec:     codec,
		providers: providers,
		presenter: presenter,
		signer:    signer,
		domain:    domain,
		scheme:    scheme,
		metrics:   metrics,
	}
}

// RegisterRoutes registers the SAML endpoints on the given router.
func (e *Engine) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/metadata", e.handleMetadata).Methods(http.MethodGet)
	r.HandleFunc("/saml/sso", e.handleSSO).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/saml/oauth-callback", e.handleOAuthCallback).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/saml/slo", e.handleSLO).Methods(http.MethodGet, http.MethodPost)
}

// provider resolves a <provider>-saml tenant label to the upstream adapter
// the login is bridged through.
func (e *Engine) provider(r *http.Request) (upstream.Provider, bool) {
	if e.signer == nil {
		return nil, false
	}

	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	label, found := strings.CutSuffix(host, "."+e.domain)
	if !found || strings.Contains(label, ".") {
		return nil, false
	}
	upstreamLabel, found := strings.CutSuffix(label, tenantSuffix)
	if !found || upstreamLabel == "" {
		return nil, false
	}

	kind, err := upstream.ParseKind(upstreamLabel)
	if err != nil {
		return nil, false
	}
	return e.providers.Lookup(kind)
}

func (e *Engine) origin(r *http.Request) string {
	return e.scheme + "://" + r.Host
}

// entityID is the tenant host, e.g. github-saml.sso.broker.
func (e *Engine) entityID(r *http.Request) string {
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func (e *Engine) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if _, ok := e.provider(r); !ok {
		httputil.WriteNotFound(w, "SAML provider not found for this subdomain")
		return
	}

	origin := e.origin(r)
	metadata, err := e.signer.Metadata(e.entityID(r), origin+"/saml/sso", origin+"/saml/slo")
	if err != nil {
		httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(metadata))
}

func (e *Engine) handleSSO(w http.ResponseWriter, r *http.Request) {
	provider, ok := e.provider(r)
	if !ok {
		httputil.WriteNotFound(w, "SAML provider not found for this subdomain")
		return
	}

	// Service providers use either binding; FormValue reads both the query
	// string and a POSTed form.
	if decision := r.FormValue("consent"); decision != "" {
		e.handleConsentDecision(w, r, provider, decision)
		return
	}

	samlRequest := r.FormValue("SAMLRequest")
	if samlRequest == "" {
		httputil.WriteBadRequest(w, "Missing SAMLRequest parameter")
		return
	}

	req, err := ParseAuthnRequest(samlRequest)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("rejected SAML request")
		httputil.WriteBadRequest(w, "Failed to parse SAML request")
		return
	}

	if expected := e.origin(r) + "/saml/sso"; req.Destination != expected {
		observability.FromContext(r.Context()).WithFields(map[string]interface{}{
			"expected": expected,
			"got":      req.Destination,
		}).Warn("SAML destination mismatch")
	}

	entraTenant := r.FormValue("entra")
	stateBytes, err := encodeFlowState(flowState{
		RequestID:   req.ID,
		ACSURL:      ResolveACSURL(req, entraTenant),
		Issuer:      req.Issuer,
		RelayState:  r.FormValue("RelayState"),
		EntraTenant: entraTenant,
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

	ssoURL := e.origin(r) + "/saml/sso"
	escaped := url.QueryEscape(stateToken)

	w.Header().Set("Content-Type", "text/html")
	renderErr := e.presenter.Render(w, consent.Data{
		Title:       "SAML Authentication",
		Heading:     "Authorize Service Provider",
		Description: "This service provider wants to access your account information.",
		AppName:     req.Issuer,
		Protocol:    "saml",
		Provider:    string(provider.Kind()),
		RedirectURI: ResolveACSURL(req, entraTenant),
		AllowURL:    ssoURL + "?consent=allow&state=" + escaped,
		DenyURL:     ssoURL + "?consent=deny&state=" + escaped,
	})
	if renderErr != nil {
		observability.FromContext(r.Context()).WithError(renderErr).Error("consent render failed")
	}
}

func (e *Engine) handleConsentDecision(w http.ResponseWriter, r *http.Request, provider upstream.Provider, decision string) {
	stateToken := r.FormValue("state")
	if stateToken == "" {
		httputil.WriteBadRequest(w, "Missing state parameter")
		return
	}

	st, err := e.verifyFlowState(stateToken)
	if err != nil {
		e.writeStateError(w, err)
		return
	}

	switch decision {
	case "deny":
		e.metrics.FlowsTotal.WithLabelValues("saml", string(provider.Kind()), "denied").Inc()
		e.metrics.SAMLResponsesTotal.WithLabelValues("denied").Inc()

		denial, err := e.signer.DenialResponse(e.entityID(r), st.RequestID)
		if err != nil {
			httputil.WriteInternalError(w, r.Context(), observability.FromContext(r.Context()), err)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(denial))

	case "allow":
		// The continuation token doubles as the OAuth state parameter.
		http.Redirect(w, r, provider.AuthorizeURL(e.origin(r)+"/saml/oauth-callback", stateToken), http.StatusFound)

	default:
		httputil.WriteBadRequest(w, "Invalid consent value")
	}
}

func (e *Engine) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := e.provider(r)
	if !ok {
		httputil.WriteNotFound(w, "SAML provider not found for this subdomain")
		return
	}

	logger := observability.FromContext(r.Context())
	kind := string(provider.Kind())

	// Apple posts the callback as a form; the other providers use query
	// parameters.
	if upstreamErr := r.FormValue("error"); upstreamErr != "" {
		e.metrics.FlowsTotal.WithLabelValues("saml", kind, "error").Inc()
		httputil.WriteBadRequest(w, "OAuth error: "+upstreamErr)
		return
	}

	code := r.FormValue("code")
	stateToken := r.FormValue("state")
	if code == "" || stateToken == "" {
		httputil.WriteBadRequest(w, "Missing code or state parameter")
		return
	}

	st, err := e.verifyFlowState(stateToken)
	if err != nil {
		e.writeStateError(w, err)
		return
	}

	start := time.Now()
	email, err := provider.Email(r.Context(), code, e.origin(r)+"/saml/oauth-callback")
	e.metrics.UpstreamExchangeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.UpstreamExchangesTotal.WithLabelValues(kind, "error").Inc()
		e.metrics.UpstreamErrorsTotal.WithLabelValues(kind).Inc()
		e.metrics.FlowsTotal.WithLabelValues("saml", kind, "error").Inc()
		logger.WithError(err).WithField("provider", kind).Error("upstream exchange failed")
		httputil.WriteBadGateway(w, "Failed to get user email from provider")
		return
	}
	e.metrics.UpstreamExchangesTotal.WithLabelValues(kind, "success").Inc()

	acsURL := st.ACSURL
	if st.EntraTenant != "" && st.Issuer == microsoftFederationIssuer {
		acsURL = MicrosoftACSURL(st.EntraTenant)
	}

	signedResponse, err := e.signer.SignedResponse(ResponseInput{
		RequestID: st.RequestID,
		ACSURL:    acsURL,
		Issuer:    st.Issuer,
		EntityID:  e.entityID(r),
		Email:     email,
	})
	if err != nil {
		e.metrics.SAMLSigningErrorsTotal.Inc()
		e.metrics.FlowsTotal.WithLabelValues("saml", kind, "error").Inc()
		httputil.WriteInternalError(w, r.Context(), logger, err)
		return
	}

	e.metrics.FlowsTotal.WithLabelValues("saml", kind, "allowed").Inc()
	e.metrics.SAMLResponsesTotal.WithLabelValues("success").Inc()

	e.deliverResponse(w, r, acsURL, signedResponse, st.RelayState)
}

func (e *Engine) handleSLO(w http.ResponseWriter, r *http.Request) {
	if _, ok := e.provider(r); !ok {
		httputil.WriteNotFound(w, "SAML provider not found for this subdomain")
		return
	}
	httputil.WriteNotImplemented(w, "SAML Single Logout not yet implemented")
}

// postFormTemplate delivers the Response over the HTTP-POST binding: an
// auto-submitting form targeting the ACS URL.
var postFormTemplate = template.Must(template.New("post").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>SAML Response</title>
</head>
<body onload="document.forms[0].submit()">
    <form method="post" action="{{.ACSURL}}">
        <input type="hidden" name="SAMLResponse" value="{{.SAMLResponse}}" />
        {{if .RelayState}}<input type="hidden" name="RelayState" value="{{.RelayState}}" />{{end}}
    </form>
</body>
</html>`))

func (e *Engine) deliverResponse(w http.ResponseWriter, r *http.Request, acsURL, response, relayState string) {
	w.Header().Set("Content-Type", "text/html")
	err := postFormTemplate.Execute(w, map[string]string{
		"ACSURL":       acsURL,
		"SAMLResponse": base64.StdEncoding.EncodeToString([]byte(response)),
		"RelayState":   relayState,
	})
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("response delivery failed")
	}
}

func (e *Engine) verifyFlowState(token string) (flowState, error) {
	payload, _, err := e.codec.VerifyContinuation(token, flowStateValidity)
	if err != nil {
		return flowState{}, err
	}
	return decodeFlowState(payload)
}

func (e *Engine) writeStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, credential.ErrExpired) {
		httputil.WriteUnauthorized(w, "State token expired")
		return
	}
	httputil.WriteBadRequest(w, "Invalid state token")
}
