package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/session"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/user"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/view"
)

// statusRecorder remembers what the handler wrote so the request log can
// report it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// requestInfo is filled in by inner handlers and read back by the request log.
type requestInfo struct {
	userID string
}

type requestInfoKey struct{}

// RequestLog logs one line per request. Server errors log at error level,
// everything else at debug. Redirects carry their target and requests that
// passed the session gate carry the user id.
func RequestLog(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &requestInfo{}
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"took", time.Since(start),
			}
			if loc := rec.Header().Get("Location"); loc != "" && rec.status >= 300 && rec.status < 400 {
				fields = append(fields, "location", loc)
			}
			if info.userID != "" {
				fields = append(fields, "user_id", info.userID)
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Errorw("request", fields...)
				return
			}
			logger.Debugw("request", fields...)
		})
	}
}

// tagUser copies the gated session's user id into the request log entry.
func tagUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := session.FromContext(r.Context()); ok {
			if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
				info.userID = s.UserID
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeadersMiddleware sets common HTTP security headers for the HTML pages.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "same-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// forms post back to this origin only
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self'; form-action 'self';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterRoutes mounts the page, auth and static handlers on a stdlib ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, h *user.Handler, sessions *session.Manager) http.Handler {
	mux := http.NewServeMux()
	gate := sessions.RequireAuth("/login")
	protect := func(h http.Handler) http.Handler { return gate(tagUser(h)) }

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /static/", view.Static())

	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("GET /login", h.LoginPage)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("GET /register", h.RegisterPage)
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("GET /logout", h.Logout)

	mux.Handle("GET /submit", protect(http.HandlerFunc(h.SubmitPage)))
	mux.Handle("POST /submit", protect(http.HandlerFunc(h.Submit)))
	mux.Handle("GET /secrets", protect(http.HandlerFunc(h.SecretsPage)))

	mux.HandleFunc("GET /auth/google", h.BeginGoogle)
	mux.HandleFunc("GET /auth/google/secrets", h.CompleteGoogle)

	return RequestLog(logger)(SecurityHeadersMiddleware()(mux))
}
