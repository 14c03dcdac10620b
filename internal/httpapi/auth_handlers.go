package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lcreports.org/internal/auth"
	"lcreports.org/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userPayload struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	Name        string            `json:"name,omitempty"`
	Role        auth.Role         `json:"role"`
	BranchID    string            `json:"branch_id,omitempty"`
	BranchIDs   []string          `json:"branch_ids,omitempty"`
	Permissions []auth.Permission `json:"permissions"`
}

func principalPayload(p auth.Principal) userPayload {
	return userPayload{
		ID:          p.User.ID,
		Username:    p.User.Username,
		Email:       p.User.Email,
		Name:        p.User.Name,
		Role:        p.User.Role,
		BranchID:    p.User.BranchID,
		BranchIDs:   p.BranchIDs,
		Permissions: auth.PermissionsFor(p.User.Role),
	}
}

// handleLoginForm accepts the OAuth2-password style form body
// (username, password).
func (a *API) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed form body")
		return
	}
	a.login(w, r, r.PostFormValue("username"), r.PostFormValue("password"))
}

func (a *API) handleLoginJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.login(w, r, req.Username, req.Password)
}

func (a *API) login(w http.ResponseWriter, r *http.Request, username, password string) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	sess, principal, err := a.auth.Login(r.Context(), username, password, clientIP(r))
	if err != nil {
		a.loginError(w, r, err)
		return
	}

	obs.CountLogin("ok")
	obs.CountTokenIssued("access")
	obs.CountTokenIssued("refresh")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  sess.AccessToken,
		"refresh_token": sess.RefreshToken,
		"token_type":    sess.TokenType,
		"expires_at":    sess.ExpiresAt,
		"user":          principalPayload(principal),
	})
}

func (a *API) loginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		obs.CountLogin("rate_limited")
		obs.CountRateLimited()
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, "Too many login attempts, please try again later")
	case errors.Is(err, auth.ErrInvalidCredentials):
		obs.CountLogin("invalid")
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "Incorrect username or password")
	case errors.Is(err, auth.ErrAccountLocked):
		obs.CountLogin("locked")
		writeError(w, r, http.StatusLocked, "Account temporarily locked, try again later")
	case errors.Is(err, auth.ErrAccountInactive):
		obs.CountLogin("inactive")
		writeError(w, r, http.StatusBadRequest, "Inactive user")
	default:
		obs.CountLogin("error")
		a.log.Error("login failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
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

	sess, _, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.refreshError(w, r, err)
		return
	}

	obs.CountRefresh("ok")
	obs.CountTokenIssued("access")
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) refreshError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		obs.CountRefresh("expired")
		writeError(w, r, http.StatusUnauthorized, "refresh token expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		obs.CountRefresh("revoked")
		writeError(w, r, http.StatusUnauthorized, "refresh token revoked")
	case errors.Is(err, auth.ErrWrongTokenKind), errors.Is(err, auth.ErrInvalidToken):
		obs.CountRefresh("invalid")
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, auth.ErrAccountInactive):
		obs.CountRefresh("inactive")
		writeError(w, r, http.StatusBadRequest, "Inactive user")
	default:
		obs.CountRefresh("error")
		a.log.Error("refresh failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	count, err := a.auth.Logout(r.Context(), principal.User.ID)
	if err != nil {
		a.log.Error("logout failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "logged_out",
		"revoked": count,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, principalPayload(principal))
}
