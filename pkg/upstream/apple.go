package upstream

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const (
	appleAuthURL  = "https://appleid.apple.com/auth/authorize"
	appleTokenURL = "https://appleid.apple.com/auth/token"
	appleIssuer   = "https://appleid.apple.com"

	appleAssertionValidity = time.Hour
)

// AppleConfig configures the Sign in with Apple adapter. Apple does not use
// a static client secret; each token exchange carries an ES256 assertion
// signed with the configured private key.
type AppleConfig struct {
	ClientID   string
	TeamID     string
	KeyID      string
	PrivateKey string // PEM-encoded PKCS#8 EC P-256 key
	Scopes     []string

	AuthURL  string
	TokenURL string

	// SkipVerification disables JWKS verification of the returned identity
	// token. Set only in tests that stand up a fake token endpoint.
	SkipVerification bool
}

// Apple is the upstream adapter for Sign in with Apple.
type Apple struct {
	cfg        AppleConfig
	signingKey *ecdsa.PrivateKey
	httpClient *http.Client

	verifierOnce sync.Once
	verifier     *oidc.IDTokenVerifier
}

// NewApple creates an Apple adapter. It fails if the private key cannot be
// parsed, so a misconfigured key is caught at startup rather than on the
// first login.
func NewApple(cfg AppleConfig) (*Apple, error) {
	if cfg.AuthURL == "" {
		cfg.AuthURL = appleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = appleTokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"email"}
	}

	key, err := parseECPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse apple private key: %w", err)
	}

	return &Apple{cfg: cfg, signingKey: key, httpClient: newHTTPClient()}, nil
}

// Kind returns KindApple.
func (a *Apple) Kind() Kind {
	return KindApple
}

// Scopes returns the requested Apple scopes.
func (a *Apple) Scopes() []string {
	return a.cfg.Scopes
}

// AuthorizeURL builds the Apple authorization URL. Apple requires
// response_mode=form_post whenever scopes are requested, so the callback
// arrives as a POST.
func (a *Apple) AuthorizeURL(redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", strings.Join(a.cfg.Scopes, " "))
	q.Set("response_type", "code")
	q.Set("response_mode", "form_post")
	return a.cfg.AuthURL + "?" + q.Encode()
}

// Email exchanges the code and reads the email claim from the id_token in
// the token response. Apple only surfaces the email inside the id_token.
func (a *Apple) Email(ctx context.Context, code, redirectURI string) (string, error) {
	assertion, err := a.clientAssertion()
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}

	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", assertion)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{Provider: KindApple, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &Error{Provider: KindApple, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &Error{Provider: KindApple, Status: resp.StatusCode, Message: string(body)}
	}

	var tokenResp struct {
		IDToken          string `json:"id_token"`
		ErrorCode        string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", &Error{Provider: KindApple, Status: resp.StatusCode, Message: err.Error()}
	}
	if tokenResp.ErrorCode != "" {
		msg := tokenResp.ErrorDescription
		if msg == "" {
			msg = tokenResp.ErrorCode
		}
		return "", &Error{Provider: KindApple, Status: resp.StatusCode, Message: msg}
	}
	if tokenResp.IDToken == "" {
		return "", ErrNoEmail
	}

	if !a.cfg.SkipVerification {
		if err := a.verifyIDToken(ctx, tokenResp.IDToken); err != nil {
			return "", &Error{Provider: KindApple, Message: fmt.Sprintf("id_token verification failed: %v", err)}
		}
	}

	return emailFromIDToken(tokenResp.IDToken)
}

// verifyIDToken checks the identity token's signature against Apple's JWKS.
// The verifier is built lazily so startup does not depend on Apple being
// reachable.
func (a *Apple) verifyIDToken(ctx context.Context, idToken string) error {
	a.verifierOnce.Do(func() {
		provider, err := oidc.NewProvider(ctx, appleIssuer)
		if err != nil {
			return
		}
		a.verifier = provider.Verifier(&oidc.Config{ClientID: a.cfg.ClientID})
	})
	if a.verifier == nil {
		// Discovery failed; the next login retries it.
		a.verifierOnce = sync.Once{}
		return errors.New("apple issuer discovery failed")
	}
	_, err := a.verifier.Verify(ctx, idToken)
	return err
}

// clientAssertion builds the ES256 JWT Apple accepts in place of a client
// secret.
func (a *Apple) clientAssertion() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": a.cfg.TeamID,
		"sub": a.cfg.ClientID,
		"aud": appleIssuer,
		"iat": now.Unix(),
		"exp": now.Add(appleAssertionValidity).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = a.cfg.KeyID
	return token.SignedString(a.signingKey)
}

// emailFromIDToken extracts the email claim without verifying the token's
// signature. The id_token arrives over the direct TLS exchange with Apple,
// so it is trusted the same way the rest of the token response is.
func emailFromIDToken(idToken string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return "", &Error{Provider: KindApple, Message: fmt.Sprintf("malformed id_token: %v", err)}
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return "", ErrNoEmail
	}
	return email, nil
}

// parseECPrivateKey decodes a PEM-encoded PKCS#8 or SEC1 EC private key.
func parseECPrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an EC key")
		}
		return ecKey, nil
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
