// Package consent renders the authorization consent page shown between the
// upstream provider callback and the final redirect back to the relying
// party. Both the OIDC and SAML engines use it; only the wording and the
// allow/deny URLs differ.
package consent
