package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/session/entity"
	sessionrepo "github.com/ovaphlow/pitchfork/service-secrets/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/utilities"
)

const DefaultCookieName = "secrets_session"

var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrDatabaseUnavailable = errors.New("session store unavailable")
)

// Store is the server-side session store.
type Store interface {
	Save(ctx context.Context, s *entity.Session) error
	Get(ctx context.Context, id string) (*entity.Session, error)
	Delete(ctx context.Context, id string) error
}

// Config holds the session knobs. Fields are populated from the environment.
type Config struct {
	Secret     string        `env:"SESSION_SECRET"`
	TTL        time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CookieName string        `env:"SESSION_COOKIE" envDefault:"secrets_session"`
	Secure     bool          `env:"COOKIE_SECURE"`
	Store      string        `env:"SESSION_STORE" envDefault:"database"`
}

// Manager issues, resolves and destroys sessions. The cookie carries an
// HS256 token whose jti names the server-side session; the token alone never
// authenticates a request.
type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
	cookie string
	secure bool
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewManager(store Store, cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		store:  store,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		cookie: cfg.CookieName,
		secure: cfg.Secure,
		logger: logger,
		now:    time.Now,
	}
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookie }

// Start creates a session for userID and writes the cookie. Any session the
// request already referenced is destroyed first so an attacker-planted id
// never becomes authenticated.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) (*entity.Session, error) {
	if sid, ok := m.sessionID(r); ok {
		if err := m.store.Delete(ctx, sid); err != nil {
			m.logger.Warnw("delete previous session failed", "err", err)
		}
	}
	now := m.now().UTC()
	s := &entity.Session{
		ID:        utilities.NewKSUID(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
	}
	token, err := m.sign(s)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure,
		Expires:  s.ExpiresAt,
	})
	return s, nil
}

// Current resolves the request's session. It returns ErrNotAuthenticated for
// a missing, forged, unknown or expired session.
func (m *Manager) Current(r *http.Request) (*entity.Session, error) {
	sid, ok := m.sessionID(r)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	s, err := m.store.Get(r.Context(), sid)
	if err != nil {
		if errors.Is(err, sessionrepo.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
	}
	if s.Expired(m.now()) {
		return nil, ErrNotAuthenticated
	}
	return s, nil
}

// IsAuthenticated is the gate predicate.
func (m *Manager) IsAuthenticated(r *http.Request) bool {
	_, err := m.Current(r)
	return err == nil
}

// Destroy removes the server-side session, if any, and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var err error
	if sid, ok := m.sessionID(r); ok {
		err = m.store.Delete(ctx, sid)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure,
		MaxAge:   -1,
	})
	return err
}

type ctxKey struct{}

// RequireAuth redirects requests without a valid session to loginPath and
// otherwise exposes the session through FromContext.
func (m *Manager) RequireAuth(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := m.Current(r)
			if err != nil {
				if !errors.Is(err, ErrNotAuthenticated) {
					m.logger.Errorw("session lookup failed", "path", r.URL.Path, "err", err)
				}
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, s)))
		})
	}
}

// FromContext returns the session stored by RequireAuth.
func FromContext(ctx context.Context) (*entity.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*entity.Session)
	return s, ok
}

func (m *Manager) sign(s *entity.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Subject:   s.UserID,
		IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// sessionID extracts the session id from a validly signed, unexpired cookie.
func (m *Manager) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.cookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || claims.ID == "" {
		return "", false
	}
	return claims.ID, true
}
