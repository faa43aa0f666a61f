package testsp

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/ssobroker/broker/pkg/httputil"
)

// Config wires the mock SP to the broker it tests against.
type Config struct {
	Domain string // broker tenant domain, e.g. sso.broker
	Scheme string
	// BrokerCertPEM is the broker's SAML signing certificate; posted
	// responses are validated against it.
	BrokerCertPEM string
}

// Handler serves the mock service provider.
type Handler struct {
	cfg       Config
	certStore *dsig.MemoryX509CertificateStore
}

// NewHandler parses the broker certificate. A mock SP without the broker
// cert cannot validate anything, so that is a construction error.
func NewHandler(cfg Config) (*Handler, error) {
	block, _ := pem.Decode([]byte(cfg.BrokerCertPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode broker certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker certificate: %w", err)
	}

	return &Handler{
		cfg:       cfg,
		certStore: &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}},
	}, nil
}

// RegisterRoutes registers the mock SP endpoints.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/start", h.handleStart).Methods(http.MethodGet)
	r.HandleFunc("/saml/acs", h.handleACSReady).Methods(http.MethodGet)
	r.HandleFunc("/saml/acs", h.handleACS).Methods(http.MethodPost)
}

// entityID is the SP issuer sent in requests and expected back as audience.
func (h *Handler) entityID() string {
	return h.cfg.Scheme + "://test-saml." + h.cfg.Domain
}

func (h *Handler) acsURL() string {
	return h.entityID() + "/saml/acs"
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>SAML Test Service Provider</title></head>
<body>
  <h1>SAML Test Service Provider</h1>
  <p>Start a login against a broker tenant:</p>
  <ul>
  {{range .Providers}}
    <li><a href="/start?provider={{.}}">{{.}}</a></li>
  {{end}}
  </ul>
</body>
</html>`))

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	homeTemplate.Execute(w, map[string]interface{}{
		"Providers": []string{"github", "google", "apple"},
	})
}

// handleStart builds an AuthnRequest for the chosen tenant and redirects the
// browser into the broker's SSO endpoint.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		httputil.WriteBadRequest(w, "Missing provider parameter")
		return
	}

	ssoURL := h.cfg.Scheme + "://" + provider + "-saml." + h.cfg.Domain + "/saml/sso"

	request := etree.NewElement("samlp:AuthnRequest")
	request.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	request.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	request.CreateAttr("ID", "_"+uuid.New().String())
	request.CreateAttr("Version", "2.0")
	request.CreateAttr("IssueInstant", time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	request.CreateAttr("Destination", ssoURL)
	request.CreateAttr("AssertionConsumerServiceURL", h.acsURL())
	request.CreateElement("saml:Issuer").SetText(h.entityID())

	doc := etree.NewDocument()
	doc.SetRoot(request)
	xml, err := doc.WriteToString()
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Failed to build SAML request")
		return
	}

	q := url.Values{}
	q.Set("SAMLRequest", base64.StdEncoding.EncodeToString([]byte(xml)))
	q.Set("RelayState", "test-"+uuid.New().String())
	http.Redirect(w, r, ssoURL+"?"+q.Encode(), http.StatusFound)
}

func (h *Handler) handleACSReady(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ready to receive SAML responses",
	})
}

// acsReport is the JSON body returned for a validated response.
type acsReport struct {
	Valid      bool                `json:"valid"`
	NameID     string              `json:"name_id"`
	Attributes map[string][]string `json:"attributes"`
	RelayState string              `json:"relay_state,omitempty"`
	ReceivedAt string              `json:"received_at"`
}

func (h *Handler) handleACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "Failed to parse form data")
		return
	}

	samlResponse := r.PostFormValue("SAMLResponse")
	if samlResponse == "" {
		httputil.WriteBadRequest(w, "Missing SAMLResponse parameter")
		return
	}

	sp := &saml2.SAMLServiceProvider{
		ServiceProviderIssuer:       h.entityID(),
		AssertionConsumerServiceURL: h.acsURL(),
		AudienceURI:                 h.entityID(),
		IDPCertificateStore:         h.certStore,
	}

	info, err := sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		httputil.WriteBadRequest(w, "SAML response validation failed: "+err.Error())
		return
	}
	if info.WarningInfo != nil && info.WarningInfo.InvalidTime {
		httputil.WriteBadRequest(w, "SAML response validation failed: assertion outside validity window")
		return
	}
	if info.WarningInfo != nil && info.WarningInfo.NotInAudience {
		httputil.WriteBadRequest(w, "SAML response validation failed: audience mismatch")
		return
	}

	attributes := make(map[string][]string)
	for _, attr := range info.Values {
		for _, v := range attr.Values {
			attributes[attr.Name] = append(attributes[attr.Name], v.Value)
		}
	}

	httputil.WriteJSON(w, http.StatusOK, acsReport{
		Valid:      true,
		NameID:     info.NameID,
		Attributes: attributes,
		RelayState: r.PostFormValue("RelayState"),
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
	})
}
