// Package oidc implements the broker's OpenID Connect provider surface:
// discovery, dynamic client registration, authorization, the upstream
// callback, consent, and the token endpoint.
//
// The engine holds no session state. Flow progress travels in an encrypted
// continuation token: /authorize mints it, /callback folds the upstream
// code into it, /consent redeems it for an authorization code, and /token
// exchanges that code for an identity token. The authorization code is
// itself a continuation token encrypted under the requesting client's
// derived secret, so only that client can redeem it.
package oidc
