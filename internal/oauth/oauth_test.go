package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeIDP serves a token endpoint and a userinfo endpoint.
func fakeIDP(t *testing.T, sub string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"sub": sub, "name": "Test User"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testProvider(srv *httptest.Server) *OAuth2Provider {
	return NewProvider(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3000/auth/google/secrets",
		Scopes:       []string{"profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  srv.URL + "/authorize",
			TokenURL: srv.URL + "/token",
		},
		UserInfoURL: srv.URL + "/userinfo",
	})
}

func TestGoogleDefaults(t *testing.T) {
	c := Config{ClientID: "id", ClientSecret: "secret"}.Google()
	assert.True(t, c.Enabled())
	assert.Contains(t, c.Endpoint.AuthURL, "accounts.google.com")
	assert.Equal(t, googleUserInfoURL, c.UserInfoURL)
	assert.Equal(t, []string{"profile"}, c.Scopes)

	assert.False(t, Config{ClientID: "id"}.Enabled())
}

func TestProviderAuthCodeURL(t *testing.T) {
	p := testProvider(fakeIDP(t, "42"))
	u, err := url.Parse(p.AuthCodeURL("st4te"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "profile", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
}

func TestProviderExchange(t *testing.T) {
	p := testProvider(fakeIDP(t, "108"))

	id, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "108", id.Subject)
	assert.Equal(t, "Test User", id.Name)

	_, err = p.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestProviderExchangeWithoutSubject(t *testing.T) {
	p := testProvider(fakeIDP(t, ""))
	_, err := p.Exchange(context.Background(), "good-code")
	assert.Error(t, err)
}

type stubProvider struct {
	identity *Identity
	err      error
	codes    []string
}

func (s *stubProvider) AuthCodeURL(state string) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(state)
}

func (s *stubProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	s.codes = append(s.codes, code)
	return s.identity, s.err
}

func begin(t *testing.T, s *Strategy) (*http.Cookie, string) {
	t.Helper()
	w := httptest.NewRecorder()
	s.BeginAuth(w, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
	res := w.Result()
	require.Equal(t, http.StatusFound, res.StatusCode)
	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	cookies := res.Cookies()
	require.Len(t, cookies, 1)
	return cookies[0], loc.Query().Get("state")
}

func callback(s *Strategy, query string, c *http.Cookie) (*Identity, error) {
	r := httptest.NewRequest(http.MethodGet, "/auth/google/secrets?"+query, nil)
	if c != nil {
		r.AddCookie(c)
	}
	return s.CompleteAuth(httptest.NewRecorder(), r)
}

func TestStrategyRoundTrip(t *testing.T) {
	stub := &stubProvider{identity: &Identity{Subject: "abc"}}
	s := NewStrategy(stub, false)

	cookie, state := begin(t, s)
	assert.Equal(t, state, cookie.Value)
	assert.Equal(t, stateCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)

	id, err := callback(s, url.Values{"code": {"c0de"}, "state": {state}}.Encode(), cookie)
	require.NoError(t, err)
	assert.Equal(t, "abc", id.Subject)
	assert.Equal(t, []string{"c0de"}, stub.codes)
}

func TestStrategyFailures(t *testing.T) {
	stub := &stubProvider{identity: &Identity{Subject: "abc"}}
	s := NewStrategy(stub, false)
	cookie, state := begin(t, s)

	cases := map[string]struct {
		query  string
		cookie *http.Cookie
	}{
		"provider denied": {url.Values{"error": {"access_denied"}, "state": {state}}.Encode(), cookie},
		"missing code":    {url.Values{"state": {state}}.Encode(), cookie},
		"missing state":   {url.Values{"code": {"c"}}.Encode(), cookie},
		"no state cookie": {url.Values{"code": {"c"}, "state": {state}}.Encode(), nil},
		"state mismatch":  {url.Values{"code": {"c"}, "state": {"forged"}}.Encode(), cookie},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := callback(s, tc.query, tc.cookie)
			assert.ErrorIs(t, err, ErrProviderAuthFailed)
		})
	}
	assert.Empty(t, stub.codes, "exchange must not run for rejected callbacks")

	stub.err = errors.New("token endpoint down")
	_, err := callback(s, url.Values{"code": {"c"}, "state": {state}}.Encode(), cookie)
	assert.ErrorIs(t, err, ErrProviderAuthFailed)
}
