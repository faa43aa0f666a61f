package credential

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenValidity is the lifetime of a broker-issued identity token.
const IDTokenValidity = time.Hour

// IssueIDToken mints a signed identity token binding a verified email to an
// issuer and audience. HS256 under the master secret; a fresh token is
// created per token-endpoint call and never persisted.
func (c *Codec) IssueIDToken(email, audience, issuer string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":            issuer,
		"sub":            email,
		"aud":            audience,
		"iat":            now.Unix(),
		"exp":            now.Add(IDTokenValidity).Unix(),
		"email":          email,
		"email_verified": true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.masterSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign identity token: %w", err)
	}
	return signed, nil
}

// ParseIDToken verifies a broker-issued identity token and returns its
// claims. Used by the token-endpoint tests and by relying parties that share
// the master secret.
func (c *Codec) ParseIDToken(token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.masterSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid identity token claims")
	}
	return claims, nil
}
