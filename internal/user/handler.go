package user

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/session"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/view"
)

// Handler exposes the HTML endpoints: pages, local register/login, secret
// submission and the Google redirect flow. Every failure ends in a redirect.
type Handler struct {
	svc      *UserService
	sessions *session.Manager
	oauth    *oauth.Strategy
	views    *view.Renderer
	logger   *zap.SugaredLogger
}

// NewHandler wires the handler. oauthStrategy may be nil when no client
// credentials are configured; the Google routes then bounce to /login.
func NewHandler(svc *UserService, sessions *session.Manager, oauthStrategy *oauth.Strategy, views *view.Renderer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, oauth: oauthStrategy, views: views, logger: logger}
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, view.Home, view.Data{Authenticated: h.sessions.IsAuthenticated(r)})
}

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, view.Login, view.Data{Title: "Login"})
}

func (h *Handler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, view.Register, view.Data{Title: "Register"})
}

// Logout destroys the session and renders the home page.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		h.logger.Warnw("destroy session failed", "err", err)
	}
	h.render(w, r, view.Home, view.Data{})
}

// SubmitPage requires RequireAuth upstream.
func (h *Handler) SubmitPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, view.Submit, view.Data{Title: "Submit", Authenticated: true})
}

// SecretsPage requires RequireAuth upstream.
func (h *Handler) SecretsPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	u, err := h.svc.Get(r.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// session outlived its user
			if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
				h.logger.Warnw("destroy session failed", "err", err)
			}
			h.fail(w, r, "/login", "session user missing", err)
			return
		}
		h.fail(w, r, "/", "load user failed", err)
		return
	}
	h.render(w, r, view.Secrets, view.Data{
		Title:         "Secrets",
		Authenticated: true,
		Username:      u.DisplayName(),
		Secret:        u.SecretValue(),
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, "/register", "invalid register payload", err)
		return
	}
	u, err := h.svc.Register(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		h.fail(w, r, "/register", "register failed", err)
		return
	}
	h.logger.Infow("user registered", "user_id", u.ID)
	if _, err := h.sessions.Start(r.Context(), w, r, u.ID); err != nil {
		h.fail(w, r, "/login", "start session failed", err)
		return
	}
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, "/login", "invalid login payload", err)
		return
	}
	u, err := h.svc.Authenticate(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		h.fail(w, r, "/login", "login failed", err)
		return
	}
	if _, err := h.sessions.Start(r.Context(), w, r, u.ID); err != nil {
		h.fail(w, r, "/login", "start session failed", err)
		return
	}
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

// Submit overwrites the current user's secret, empty values included.
// Requires RequireAuth upstream.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, "/submit", "invalid submit payload", err)
		return
	}
	if err := h.svc.SetSecret(r.Context(), sess.UserID, r.PostForm.Get("secret")); err != nil {
		h.fail(w, r, "/submit", "save secret failed", err)
		return
	}
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

// BeginGoogle starts the OAuth redirect flow.
func (h *Handler) BeginGoogle(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		h.logger.Warnw("google sign-in requested but not configured")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	h.oauth.BeginAuth(w, r)
}

// CompleteGoogle handles the provider callback: find-or-create the user by
// the provider subject, then start a session.
func (h *Handler) CompleteGoogle(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	identity, err := h.oauth.CompleteAuth(w, r)
	if err != nil {
		h.fail(w, r, "/login", "google callback rejected", err)
		return
	}
	u, created, err := h.svc.FindOrCreateByOAuthID(r.Context(), identity.Subject)
	if err != nil {
		h.fail(w, r, "/login", "resolve google user failed", err)
		return
	}
	if created {
		h.logger.Infow("user created from google identity", "user_id", u.ID)
	}
	if _, err := h.sessions.Start(r.Context(), w, r, u.ID); err != nil {
		h.fail(w, r, "/login", "start session failed", err)
		return
	}
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page string, data view.Data) {
	data.OAuthEnabled = h.oauth != nil
	if err := h.views.Render(w, http.StatusOK, page, data); err != nil {
		h.logger.Errorw("render failed", "page", page, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// fail logs err at a level matching its kind and redirects to the recovery view.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, to, msg string, err error) {
	switch {
	case errors.Is(err, ErrDatabaseUnavailable), errors.Is(err, session.ErrDatabaseUnavailable):
		h.logger.Errorw(msg, "path", r.URL.Path, "err", err)
	default:
		h.logger.Infow(msg, "path", r.URL.Path, "err", err)
	}
	http.Redirect(w, r, to, http.StatusFound)
}
