package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// Identity is what the provider asserts about the user after a successful exchange.
type Identity struct {
	Subject string
	Name    string
}

// Provider abstracts the external identity provider.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Config describes an OAuth2 provider. Fields are populated from the environment.
type Config struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURL  string   `env:"OAUTH_CALLBACK_URL" envDefault:"http://localhost:3000/auth/google/secrets"`
	Scopes       []string `env:"OAUTH_SCOPES" envDefault:"profile"`
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
}

// Enabled reports whether client credentials were supplied.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Google fills in Google's endpoints where they are not already set.
func (c Config) Google() Config {
	if c.Endpoint.AuthURL == "" {
		c.Endpoint = google.Endpoint
	}
	if c.UserInfoURL == "" {
		c.UserInfoURL = googleUserInfoURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"profile"}
	}
	return c
}

// OAuth2Provider implements Provider on top of golang.org/x/oauth2 and an
// OpenID style userinfo endpoint.
type OAuth2Provider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewProvider(c Config) *OAuth2Provider {
	return &OAuth2Provider{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       c.Scopes,
			Endpoint:     c.Endpoint,
		},
		userInfoURL: c.UserInfoURL,
	}
}

func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

// Exchange trades the authorization code for a token and reads the subject
// from the userinfo endpoint.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}
	var payload struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if payload.Sub == "" {
		return nil, errors.New("userinfo without subject")
	}
	return &Identity{Subject: payload.Sub, Name: payload.Name}, nil
}
