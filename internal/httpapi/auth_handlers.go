package httpapi

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"crewdesk.org/internal/audit"
	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/ids"
	"crewdesk.org/internal/obs"
)

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	Everywhere   bool   `json:"everywhere"`
}

type sessionResponse struct {
	auth.TokenPair
	User auth.Principal `json:"user"`
}

const minPasswordLength = 8

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	username := strings.TrimSpace(req.Username)
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}
	if username == "" || len(username) > 64 {
		writeError(w, r, http.StatusBadRequest, "username must be 1-64 characters")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	user := &auth.User{
		ID:           ids.New(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleMember,
		IsActive:     true,
	}
	if err := a.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			writeError(w, r, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	pair, err := a.manager.Issue(r.Context(), user.Principal())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"user_id": user.ID,
		"email":   email,
	})

	a.setAuthCookie(w, pair)
	writeJSON(w, http.StatusCreated, sessionResponse{TokenPair: pair, User: user.Principal()})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, principal, err := a.manager.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// One message for unknown account, wrong password and disabled
		// account alike.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": principal.ID,
	})

	a.setAuthCookie(w, pair)
	writeJSON(w, http.StatusOK, sessionResponse{TokenPair: pair, User: principal})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, principal, err := a.manager.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		obs.ObserveRefreshRotation("invalid")
		// Rotation failure means the session is gone; the client must log
		// in again.
		a.clearAuthCookie(w)
		writeError(w, r, http.StatusUnauthorized, "session expired")
		return
	}
	obs.ObserveRefreshRotation("ok")

	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": principal.ID,
	})

	a.setAuthCookie(w, pair)
	writeJSON(w, http.StatusOK, sessionResponse{TokenPair: pair, User: principal})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req logoutRequest
	// An empty body is a plain logout of the current device.
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	if req.Everywhere {
		if err := a.manager.RevokeAllForUser(r.Context(), principal.ID); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	} else if req.RefreshToken != "" {
		if err := a.manager.Revoke(r.Context(), req.RefreshToken); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"user_id":    principal.ID,
		"everywhere": req.Everywhere,
	})

	a.clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

func (a *API) setAuthCookie(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
