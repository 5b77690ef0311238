package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/middleware"
)

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

// AuthHandler handles admin login and session checks.
type AuthHandler struct {
	sessions   *middleware.SessionManager
	validation *middleware.ValidationMiddleware
	errors     *apperrors.ErrorHandler
	logger     *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(sessions *middleware.SessionManager, validation *middleware.ValidationMiddleware, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:   sessions,
		validation: validation,
		errors:     errorHandler,
		logger:     logger.With(slog.String("handler", "auth")),
	}
}

// Login handles POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.validation.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, apperrors.ErrInvalidLogin)
		return
	}
	if !h.sessions.CheckCredentials(req.Username, req.Password) {
		h.logger.WarnContext(ctx, "admin login failed",
			slog.String("username", req.Username),
			slog.String("remote_addr", r.RemoteAddr))
		h.errors.HandleError(w, r, apperrors.ErrInvalidLogin)
		return
	}

	token, expires, err := h.sessions.Issue(req.Username)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.sessions.SetCookie(w, token, expires)
	h.logger.InfoContext(ctx, "admin logged in", slog.String("username", req.Username))
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"message": "Logged in",
	})
}

// Logout handles POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// CheckAuth handles GET /api/check-auth
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.sessions.Authorize(r)
	if !ok {
		render.JSON(w, r, map[string]interface{}{"logged_in": false})
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"logged_in": true,
		"username":  admin.Username,
	})
}
