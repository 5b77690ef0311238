package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"

	"licensesrv/internal/config"
	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/security"
)

// ErrInvalidSession is returned for missing, expired or forged sessions.
var ErrInvalidSession = errors.New("invalid session")

// SessionClaims is the payload of the session cookie.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// How a request was authorized as admin.
const (
	AuthSession = "session"
	AuthBearer  = "bearer"
	AuthToken   = "token"
)

type adminKey struct{}

// Admin describes the authorized caller.
type Admin struct {
	Username string
	Method   string
}

// SessionManager issues and checks admin sessions. Besides the session
// cookie, the admin password is accepted as a bearer token or as the token
// query parameter.
type SessionManager struct {
	secret     []byte
	ttl        time.Duration
	username   string
	password   string
	secure     bool
	cookieName string
	now        func() time.Time
}

// NewSessionManager creates a manager from the security settings.
func NewSessionManager(cfg config.SecurityConfig) *SessionManager {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = config.SessionTimeout
	}
	return &SessionManager{
		secret:     []byte(cfg.SessionSecret),
		ttl:        ttl,
		username:   cfg.AdminUsername,
		password:   cfg.AdminPassword,
		secure:     cfg.CookieSecure,
		cookieName: config.SessionCookieName,
		now:        time.Now,
	}
}

// CheckCredentials compares username and password with the admin account.
func (m *SessionManager) CheckCredentials(username, password string) bool {
	userOK := security.SecureCompare([]byte(username), []byte(m.username))
	passOK := security.SecureCompare([]byte(password), []byte(m.password))
	return userOK && passOK
}

// Issue signs a session token for username.
func (m *SessionManager) Issue(username string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    config.AppName,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a session token and returns its username.
func (m *SessionManager) Parse(tokenString string) (string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.AppName),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidSession
	}
	return claims.Username, nil
}

// SetCookie stores a session token in the response.
func (m *SessionManager) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func (m *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Session returns the username of a valid session cookie.
func (m *SessionManager) Session(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	username, err := m.Parse(cookie.Value)
	if err != nil {
		return "", false
	}
	return username, true
}

// Authorize checks the session cookie, then the bearer password, then the
// token query parameter.
func (m *SessionManager) Authorize(r *http.Request) (Admin, bool) {
	if username, ok := m.Session(r); ok {
		return Admin{Username: username, Method: AuthSession}, true
	}
	if m.password == "" {
		return Admin{}, false
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, credential, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "bearer") &&
			security.SecureCompare([]byte(credential), []byte(m.password)) {
			return Admin{Username: m.username, Method: AuthBearer}, true
		}
	}
	if token := r.URL.Query().Get("token"); token != "" &&
		security.SecureCompare([]byte(token), []byte(m.password)) {
		return Admin{Username: m.username, Method: AuthToken}, true
	}
	return Admin{}, false
}

// RequireAdmin rejects requests that Authorize does not accept.
func (m *SessionManager) RequireAdmin(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin, ok := m.Authorize(r)
			if !ok {
				logger.WarnContext(r.Context(), "unauthorized admin request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				problem := apperrors.NewProblemDetails(
					http.StatusUnauthorized,
					apperrors.TypeUnauthorized,
					"Unauthorized",
					"Admin login required",
					r.URL.Path,
				).
					WithExtension("error", "Unauthorized").
					WithExtension("trace_id", GetRequestID(r.Context()))
				render.Render(w, r, problem)
				return
			}
			ctx := context.WithValue(r.Context(), adminKey{}, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext returns the caller stored by RequireAdmin.
func AdminFromContext(ctx context.Context) (Admin, bool) {
	admin, ok := ctx.Value(adminKey{}).(Admin)
	return admin, ok
}
