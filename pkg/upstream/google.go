package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// GoogleConfig configures the Google adapter. Endpoint fields default to
// the public Google URLs and exist so tests can point at a fake server.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// Google is the upstream adapter for Google OAuth.
type Google struct {
	cfg        GoogleConfig
	httpClient *http.Client
}

// NewGoogle creates a Google adapter.
func NewGoogle(cfg GoogleConfig) *Google {
	if cfg.AuthURL == "" {
		cfg.AuthURL = googleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = googleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = googleUserInfoURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	return &Google{cfg: cfg, httpClient: newHTTPClient()}
}

// Kind returns KindGoogle.
func (g *Google) Kind() Kind {
	return KindGoogle
}

// Scopes returns the requested Google scopes.
func (g *Google) Scopes() []string {
	return g.cfg.Scopes
}

// AuthorizeURL builds the Google authorization URL.
func (g *Google) AuthorizeURL(redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", g.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", strings.Join(g.cfg.Scopes, " "))
	q.Set("response_type", "code")
	q.Set("access_type", "offline")
	return g.cfg.AuthURL + "?" + q.Encode()
}

// Email exchanges the code and reads the email from the userinfo endpoint.
func (g *Google) Email(ctx context.Context, code, redirectURI string) (string, error) {
	conf := &oauth2.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       g.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  g.cfg.AuthURL,
			TokenURL: g.cfg.TokenURL,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return "", exchangeError(KindGoogle, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.UserInfoURL, nil)
	if err != nil {
		return "", &Error{Provider: KindGoogle, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &Error{Provider: KindGoogle, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &Error{Provider: KindGoogle, Status: resp.StatusCode, Message: string(body)}
	}

	var user struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", &Error{Provider: KindGoogle, Status: resp.StatusCode, Message: err.Error()}
	}
	if user.Email == "" {
		return "", ErrNoEmail
	}
	return user.Email, nil
}
