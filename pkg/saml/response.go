package saml

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	samlProtocolNS  = "urn:oasis:names:tc:SAML:2.0:protocol"
	samlAssertionNS = "urn:oasis:names:tc:SAML:2.0:assertion"

	statusSuccess   = "urn:oasis:names:tc:SAML:2.0:status:Success"
	statusResponder = "urn:oasis:names:tc:SAML:2.0:status:Responder"

	nameIDFormatEmail  = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	confirmationBearer = "urn:oasis:names:tc:SAML:2.0:cm:bearer"
	authnContextPwTLS  = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"

	attrFormatBasic = "urn:oasis:names:tc:SAML:2.0:attrname-format:basic"
	attrFormatURI   = "urn:oasis:names:tc:SAML:2.0:attrname-format:uri"

	wsFedEmailClaim = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	wsFedNameClaim  = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"

	// Assertion validity window around issuance.
	notBeforeSkew  = time.Minute
	assertionValid = 5 * time.Minute
)

// Signer holds the broker's SAML signing credentials and produces signed
// Response documents.
type Signer struct {
	certificate *x509.Certificate
	privateKey  *rsa.PrivateKey
	signingCtx  *dsig.SigningContext
}

// NewSigner parses the PEM certificate and RSA private key. A key that fails
// to parse is a startup error; a broker that cannot sign must not serve SAML.
func NewSigner(certPEM, keyPEM string) (*Signer, error) {
	certBlock, _ := pem.Decode([]byte(certPEM))
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
	}

	keyStore := &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: [][]byte{cert.Raw},
	}

	return &Signer{
		certificate: cert,
		privateKey:  privateKey,
		signingCtx:  dsig.NewDefaultSigningContext(keyStore),
	}, nil
}

// CertificateBase64 returns the base64 DER certificate for metadata and for
// service providers that validate broker signatures.
func (s *Signer) CertificateBase64() string {
	return base64.StdEncoding.EncodeToString(s.certificate.Raw)
}

// ResponseInput is everything needed to mint a Response for a completed
// login.
type ResponseInput struct {
	RequestID string
	ACSURL    string
	Issuer    string // SP entity id, used as audience
	EntityID  string // broker entity id for this tenant
	Email     string
}

// SignedResponse builds and signs a success Response. The returned string is
// the XML document; callers must treat a signing error as fatal for the
// flow, an unsigned success Response is never produced.
func (s *Signer) SignedResponse(in ResponseInput) (string, error) {
	response := buildResponse(in)

	signed, err := s.signingCtx.SignEnveloped(response)
	if err != nil {
		return "", fmt.Errorf("failed to sign response: %w", err)
	}

	// The signature must stay exactly where SignEnveloped put it (last
	// child): the digest covers the document as signed, and relocating the
	// element invalidates it.
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(signed)
	return doc.WriteToString()
}

// DenialResponse builds the unsigned Responder Response returned when the
// user denies consent. No Assertion is included.
func (s *Signer) DenialResponse(entityID, requestID string) (string, error) {
	response := etree.NewElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", samlProtocolNS)
	response.CreateAttr("xmlns:saml", samlAssertionNS)
	response.CreateAttr("ID", newID())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", samlInstant(time.Now()))
	if requestID != "" {
		response.CreateAttr("InResponseTo", requestID)
	}

	response.CreateElement("saml:Issuer").SetText(entityID)

	status := response.CreateElement("samlp:Status")
	status.CreateElement("samlp:StatusCode").CreateAttr("Value", statusResponder)
	status.CreateElement("samlp:StatusMessage").SetText("User denied access")

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(response)
	return doc.WriteToString()
}

func buildResponse(in ResponseInput) *etree.Element {
	now := time.Now()
	notBefore := now.Add(-notBeforeSkew)
	notOnOrAfter := now.Add(assertionValid)

	response := etree.NewElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", samlProtocolNS)
	response.CreateAttr("xmlns:saml", samlAssertionNS)
	response.CreateAttr("ID", newID())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", samlInstant(now))
	response.CreateAttr("Destination", in.ACSURL)
	response.CreateAttr("InResponseTo", in.RequestID)

	response.CreateElement("saml:Issuer").SetText(in.EntityID)

	status := response.CreateElement("samlp:Status")
	status.CreateElement("samlp:StatusCode").CreateAttr("Value", statusSuccess)

	assertion := response.CreateElement("saml:Assertion")
	assertion.CreateAttr("ID", newID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", samlInstant(now))

	assertion.CreateElement("saml:Issuer").SetText(in.EntityID)

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", nameIDFormatEmail)
	nameID.SetText(in.Email)

	confirmation := subject.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", confirmationBearer)
	confirmationData := confirmation.CreateElement("saml:SubjectConfirmationData")
	confirmationData.CreateAttr("NotOnOrAfter", samlInstant(notOnOrAfter))
	confirmationData.CreateAttr("Recipient", in.ACSURL)
	confirmationData.CreateAttr("InResponseTo", in.RequestID)

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", samlInstant(notBefore))
	conditions.CreateAttr("NotOnOrAfter", samlInstant(notOnOrAfter))
	audience := conditions.CreateElement("saml:AudienceRestriction")
	audience.CreateElement("saml:Audience").SetText(in.Issuer)

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", samlInstant(now))
	authnStatement.CreateAttr("SessionIndex", newID())
	authnContext := authnStatement.CreateElement("saml:AuthnContext")
	authnContext.CreateElement("saml:AuthnContextClassRef").SetText(authnContextPwTLS)

	assertion.AddChild(buildAttributeStatement(in))

	return response
}

// buildAttributeStatement picks the attribute schema by relying-party class.
// Microsoft federation consumes WS-Fed claim URIs; everything else gets the
// basic email/name pair.
func buildAttributeStatement(in ResponseInput) *etree.Element {
	statement := etree.NewElement("saml:AttributeStatement")
	name := in.Email
	if i := strings.IndexByte(in.Email, '@'); i > 0 {
		name = in.Email[:i]
	}

	if in.Issuer == microsoftFederationIssuer {
		addAttribute(statement, wsFedEmailClaim, attrFormatURI, in.Email)
		addAttribute(statement, wsFedNameClaim, attrFormatURI, name)
	} else {
		addAttribute(statement, "email", attrFormatBasic, in.Email)
		addAttribute(statement, "name", attrFormatBasic, name)
	}
	return statement
}

func addAttribute(statement *etree.Element, name, format, value string) {
	attr := statement.CreateElement("saml:Attribute")
	attr.CreateAttr("Name", name)
	attr.CreateAttr("NameFormat", format)
	attr.CreateElement("saml:AttributeValue").SetText(value)
}

// Metadata renders the IdP EntityDescriptor for a tenant.
func (s *Signer) Metadata(entityID, ssoURL, sloURL string) (string, error) {
	descriptor := etree.NewElement("md:EntityDescriptor")
	descriptor.CreateAttr("xmlns:md", "urn:oasis:names:tc:SAML:2.0:metadata")
	descriptor.CreateAttr("entityID", entityID)

	idp := descriptor.CreateElement("md:IDPSSODescriptor")
	idp.CreateAttr("protocolSupportEnumeration", samlProtocolNS)

	keyDescriptor := idp.CreateElement("md:KeyDescriptor")
	keyDescriptor.CreateAttr("use", "signing")
	keyInfo := keyDescriptor.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", "http://www.w3.org/2000/09/xmldsig#")
	keyInfo.CreateElement("ds:X509Data").CreateElement("ds:X509Certificate").SetText(s.CertificateBase64())

	sso := idp.CreateElement("md:SingleSignOnService")
	sso.CreateAttr("Binding", "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST")
	sso.CreateAttr("Location", ssoURL)

	slo := idp.CreateElement("md:SingleLogoutService")
	slo.CreateAttr("Binding", "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST")
	slo.CreateAttr("Location", sloURL)

	idp.CreateElement("md:NameIDFormat").SetText(nameIDFormatEmail)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(descriptor)
	doc.Indent(2)
	return doc.WriteToString()
}

func newID() string {
	return "_" + uuid.New().String()
}

func samlInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
