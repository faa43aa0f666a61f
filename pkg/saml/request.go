package saml

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const microsoftFederationIssuer = "urn:federation:MicrosoftOnline"

// AuthnRequest is the subset of a SAML AuthnRequest the broker acts on.
type AuthnRequest struct {
	ID           string
	IssueInstant string
	Destination  string
	ACSURL       string
	Issuer       string
}

// ParseAuthnRequest decodes a base64 SAMLRequest parameter and extracts the
// request fields. The root element is matched by local name so namespace
// prefixes do not matter; the Issuer child likewise.
func ParseAuthnRequest(samlRequest string) (*AuthnRequest, error) {
	decoded, err := base64.StdEncoding.DecodeString(samlRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to decode SAMLRequest: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(decoded); err != nil {
		return nil, fmt.Errorf("failed to parse SAMLRequest: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "AuthnRequest" {
		return nil, errors.New("not an AuthnRequest")
	}

	req := &AuthnRequest{
		ID:           root.SelectAttrValue("ID", ""),
		IssueInstant: root.SelectAttrValue("IssueInstant", ""),
		Destination:  root.SelectAttrValue("Destination", ""),
		ACSURL:       root.SelectAttrValue("AssertionConsumerServiceURL", ""),
	}
	for _, child := range root.ChildElements() {
		if child.Tag == "Issuer" {
			req.Issuer = strings.TrimSpace(child.Text())
			break
		}
	}
	return req, nil
}

// ResolveACSURL returns the assertion consumer service URL for a request.
// Some service providers, Microsoft included, omit the ACS URL from the
// request; the fallbacks mirror how those providers expect to be addressed.
func ResolveACSURL(req *AuthnRequest, entraTenant string) string {
	if req.ACSURL != "" {
		return req.ACSURL
	}
	if req.Issuer == microsoftFederationIssuer {
		return MicrosoftACSURL(entraTenant)
	}
	if req.Issuer != "" {
		host := strings.TrimPrefix(req.Issuer, "urn:")
		host = strings.ReplaceAll(host, ":", ".")
		return "https://" + host + "/saml/acs"
	}
	return "https://saml.acs.fallback/saml/acs"
}

// MicrosoftACSURL builds the Entra ID assertion consumer URL for a tenant,
// defaulting to the multi-tenant endpoint.
func MicrosoftACSURL(entraTenant string) string {
	if entraTenant == "" {
		entraTenant = "common"
	}
	return "https://login.microsoftonline.com/" + entraTenant + "/saml2"
}
