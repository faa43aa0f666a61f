// Package upstream implements the OAuth adapters for the identity providers
// the broker authenticates against (GitHub, Google, Apple).
//
// Each adapter exposes two capabilities: building the provider's authorize
// URL for the browser redirect, and exchanging an authorization code for a
// verified email address. The broker never keeps upstream tokens; the email
// is the only thing it extracts before the access token is dropped.
//
// Providers form a closed set. Adding one means adding a Kind constant and
// an implementation, not sprinkling string comparisons across handlers.
package upstream
