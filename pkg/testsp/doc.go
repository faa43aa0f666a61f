// Package testsp is a mock SAML service provider served on the reserved
// test-saml tenant. It can start a login against any broker tenant and
// validates posted responses against the broker's signing certificate,
// reporting the extracted identity as JSON. Manual verification aid only.
package testsp
