// Package credential implements the broker's stateless credential codec.
//
// The broker has no database: every credential it hands out is a
// self-describing token that can be re-verified from the token bytes and the
// master secret alone. Client ids carry an HMAC-signed registration payload,
// client secrets are re-derived deterministically from the application GUID,
// and continuation tokens are AES-GCM ciphertexts with an embedded creation
// timestamp that substitute for server-side session state across redirects.
//
// Token formats are type-marked with a single-character prefix:
//
//	c<base64url>  client id ({payload, signature} wrapper)
//	s<hex>        client secret (truncated HMAC of the app GUID)
//	e<base64url>  continuation token ({ciphertext, nonce} wrapper)
//	a<base64url>  opaque access token (random)
package credential
