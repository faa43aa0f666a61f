package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	githubAuthURL  = "https://github.com/login/oauth/authorize"
	githubTokenURL = "https://github.com/login/oauth/access_token"
	githubAPIURL   = "https://api.github.com"

	githubUserAgent = "sso-broker/1.0"
)

// GitHubConfig configures the GitHub adapter. Endpoint fields default to
// the public GitHub URLs and exist so tests can point at a fake server.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL  string
	TokenURL string
	APIURL   string
}

// GitHub is the upstream adapter for GitHub OAuth.
type GitHub struct {
	cfg        GitHubConfig
	httpClient *http.Client
}

// NewGitHub creates a GitHub adapter.
func NewGitHub(cfg GitHubConfig) *GitHub {
	if cfg.AuthURL == "" {
		cfg.AuthURL = githubAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = githubTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = githubAPIURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"user:email"}
	}
	return &GitHub{cfg: cfg, httpClient: newHTTPClient()}
}

// Kind returns KindGitHub.
func (g *GitHub) Kind() Kind {
	return KindGitHub
}

// Scopes returns the requested GitHub scopes.
func (g *GitHub) Scopes() []string {
	return g.cfg.Scopes
}

// AuthorizeURL builds the GitHub authorization URL.
func (g *GitHub) AuthorizeURL(redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", g.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", strings.Join(g.cfg.Scopes, " "))
	return g.cfg.AuthURL + "?" + q.Encode()
}

// Email exchanges the code and resolves the user's email. GitHub profiles
// can hide the email, so the dedicated emails endpoint is consulted as a
// fallback, preferring the primary address, then the first verified one.
func (g *GitHub) Email(ctx context.Context, code, redirectURI string) (string, error) {
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
		return "", exchangeError(KindGitHub, err)
	}

	var user struct {
		Email string `json:"email"`
	}
	if err := g.getJSON(ctx, token.AccessToken, "/user", &user); err != nil {
		return "", err
	}
	if user.Email != "" {
		return user.Email, nil
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := g.getJSON(ctx, token.AccessToken, "/user/emails", &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", ErrNoEmail
}

// getJSON performs an authenticated GET against the GitHub API.
func (g *GitHub) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", githubUserAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &Error{Provider: KindGitHub, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &Error{Provider: KindGitHub, Status: resp.StatusCode, Message: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Provider: KindGitHub, Status: resp.StatusCode, Message: err.Error()}
	}
	return nil
}

// exchangeError maps an oauth2 exchange failure to an upstream Error.
func exchangeError(kind Kind, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = string(re.Body)
		}
		return &Error{Provider: kind, Status: status, Message: msg}
	}
	return &Error{Provider: kind, Message: err.Error()}
}
