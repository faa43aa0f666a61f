// Package saml implements the broker's SAML 2.0 identity provider surface:
// metadata, single sign-on ingestion, consent, and the OAuth bridge callback
// that turns an upstream login into a signed SAML Response.
//
// Like the OIDC engine, the SAML engine holds no session state. The parsed
// AuthnRequest context travels through the upstream OAuth flow inside an
// encrypted continuation token, and the Response is minted only after the
// upstream provider confirms the user's email.
package saml
