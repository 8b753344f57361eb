package httpapi

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"crewdesk.org/internal/audit"
	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/authz"
	"crewdesk.org/internal/obs"
)

type updateUserRequest struct {
	Email                 *string `json:"email"`
	Username              *string `json:"username"`
	Password              *string `json:"password"`
	IsActive              *bool   `json:"is_active"`
	RequiresPasswordReset *bool   `json:"requires_password_reset"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		switch r.Method {
		case http.MethodPatch:
			a.updateUser(w, r, id)
		case http.MethodDelete:
			a.deleteUser(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
		}
	case "role":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setUserRole(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	// Everyone may edit their own profile; edits of other accounts go
	// through the policy engine.
	if principal.ID != id {
		if _, ok := a.authorize(w, r, authz.Account(id), authz.ActionModify); !ok {
			return
		}
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	upd := auth.UserUpdate{
		IsActive:              req.IsActive,
		RequiresPasswordReset: req.RequiresPasswordReset,
	}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			writeError(w, r, http.StatusBadRequest, "a valid email is required")
			return
		}
		upd.Email = &email
	}
	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if username == "" || len(username) > 64 {
			writeError(w, r, http.StatusBadRequest, "username must be 1-64 characters")
			return
		}
		upd.Username = &username
	}
	if req.Password != nil {
		if len(*req.Password) < minPasswordLength {
			writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		upd.PasswordHash = &hash
	}
	// Only the policy engine path may toggle account status.
	if req.IsActive != nil && principal.ID == id {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	user, err := a.users.Update(r.Context(), id, upd)
	if err != nil {
		handleAuthStoreError(w, r, err)
		return
	}

	// Disabling an account kills its sessions immediately.
	if req.IsActive != nil && !*req.IsActive {
		_ = a.manager.RevokeAllForUser(r.Context(), id)
	}

	_ = audit.LogEvent(r.Context(), "account.update", map[string]any{
		"target": id,
	})
	writeJSON(w, http.StatusOK, user.Principal())
}

func (a *API) setUserRole(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "role must be ADMIN, MANAGER or MEMBER")
		return
	}

	err = a.engine.AuthorizeRoleChange(r.Context(), principal, id, role)
	switch {
	case err == nil:
		obs.ObserveAuthzDecision("user", "role_change", "allow")
	case errors.Is(err, authz.ErrNotFound):
		obs.ObserveAuthzDecision("user", "role_change", "not_found")
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	case errors.Is(err, authz.ErrForbidden):
		obs.ObserveAuthzDecision("user", "role_change", "forbidden")
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.users.UpdateRole(r.Context(), id, role); err != nil {
		handleAuthStoreError(w, r, err)
		return
	}
	// Existing tokens carry the old role; force re-login so the change
	// takes effect everywhere.
	_ = a.manager.RevokeAllForUser(r.Context(), id)

	_ = audit.LogEvent(r.Context(), "account.role.change", map[string]any{
		"target": id,
		"role":   string(role),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "role": role})
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Account(id), authz.ActionDelete); !ok {
		return
	}
	if err := a.users.Delete(r.Context(), id); err != nil {
		handleAuthStoreError(w, r, err)
		return
	}
	_ = a.manager.RevokeAllForUser(r.Context(), id)

	_ = audit.LogEvent(r.Context(), "account.delete", map[string]any{
		"target": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func handleAuthStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
