// Package router dispatches requests to the OIDC engine, the SAML engine,
// or the mock test SP based on the tenant subdomain and the request path.
// Anything that matches no protocol surface answers with a health body.
package router
