package oauth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ovaphlow/pitchfork/service-secrets/pkg/utilities"
)

const (
	stateCookieName = "secrets_oauth_state"
	stateTTL        = 10 * time.Minute
)

// ErrProviderAuthFailed covers every way a callback can fail: provider
// denial, malformed callback, state mismatch or a failed exchange.
var ErrProviderAuthFailed = errors.New("provider authentication failed")

// Strategy drives the redirect flow. The pending state lives only in a
// short-lived cookie on the user agent; nothing is persisted server side
// until the callback resolves.
type Strategy struct {
	provider Provider
	secure   bool
}

func NewStrategy(p Provider, secureCookies bool) *Strategy {
	return &Strategy{provider: p, secure: secureCookies}
}

// BeginAuth redirects the user agent to the provider's authorization endpoint.
func (s *Strategy) BeginAuth(w http.ResponseWriter, r *http.Request) {
	state := utilities.NewState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
		MaxAge:   int(stateTTL.Seconds()),
	})
	http.Redirect(w, r, s.provider.AuthCodeURL(state), http.StatusFound)
}

// CompleteAuth validates the callback and returns the asserted identity. The
// state cookie is always cleared.
func (s *Strategy) CompleteAuth(w http.ResponseWriter, r *http.Request) (*Identity, error) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
		MaxAge:   -1,
	})

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: provider returned %s", ErrProviderAuthFailed, e)
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		return nil, fmt.Errorf("%w: missing code or state", ErrProviderAuthFailed)
	}
	c, err := r.Cookie(stateCookieName)
	if err != nil || c.Value == "" {
		return nil, fmt.Errorf("%w: missing state cookie", ErrProviderAuthFailed)
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		return nil, fmt.Errorf("%w: state mismatch", ErrProviderAuthFailed)
	}
	id, err := s.provider.Exchange(r.Context(), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderAuthFailed, err)
	}
	return id, nil
}
