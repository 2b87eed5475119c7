package httpapi

import (
	"errors"
	"net/http"
	"time"

	"mercaro.shop/internal/audit"
	"mercaro.shop/internal/identity"
	"mercaro.shop/internal/obs"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type sessionResponse struct {
	Identity        identity.Projection `json:"identity"`
	AccessExpiresAt time.Time           `json:"access_expires_at"`
}

type otpRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) registerAuthRoutes(prefix string, class identity.Class) {
	a.mux.HandleFunc(prefix+"/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.login(w, r, prefix, class)
	})
	a.mux.HandleFunc(prefix+"/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.refreshToken(w, r, prefix, class)
	})
	a.mux.HandleFunc(prefix+"/logout", a.requireAuth(class, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.logout(w, r, prefix)
	}))
	a.mux.HandleFunc(prefix+"/is-authenticated", a.requireAuth(class, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.isAuthenticated(w, r)
	}))
	a.mux.HandleFunc(prefix+"/send-otp-code", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.sendOtpCode(w, r, class)
	})
	a.mux.HandleFunc(prefix+"/verify-otp-code", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.verifyOtpCode(w, r, class)
	})
	a.mux.HandleFunc(prefix+"/reset-password", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.resetPassword(w, r, class)
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request, prefix string, class identity.Class) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, id, err := a.svc.Login(r.Context(), class, req.Email, req.Password)
	if err != nil {
		obs.IncLogin(string(class), loginResult(err))
		a.handleAuthError(w, r, err)
		return
	}
	obs.IncLogin(string(class), "ok")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"identity_id": id.ID,
		"class":       string(class),
		"remember":    req.Remember,
	})

	a.setAccessCookie(w, pair)
	if req.Remember {
		a.setRefreshCookie(w, prefix, class, pair.RefreshToken)
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Identity:        id.Projection(),
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

func (a *API) refreshToken(w http.ResponseWriter, r *http.Request, prefix string, class identity.Class) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		obs.IncRefresh(string(class), "missing")
		writeError(w, r, http.StatusUnauthorized, "missing refresh token")
		return
	}

	pair, id, err := a.svc.Refresh(r.Context(), class, cookie.Value)
	if err != nil {
		obs.IncRefresh(string(class), refreshResult(err))
		// A dead token never comes back; stop the client from replaying it.
		if !errors.Is(err, identity.ErrNotFound) {
			a.clearSessionCookies(w, prefix)
		}
		a.handleAuthError(w, r, err)
		return
	}
	obs.IncRefresh(string(class), "ok")
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"identity_id": id.ID,
		"class":       string(class),
	})

	a.setAccessCookie(w, pair)
	writeJSON(w, http.StatusOK, sessionResponse{
		Identity:        id.Projection(),
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request, prefix string) {
	callerID, ok := identity.IdentityIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, r, http.StatusUnauthorized, "missing refresh token")
		return
	}

	if err := a.svc.Logout(r.Context(), callerID, cookie.Value); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"identity_id": callerID,
	})

	a.clearSessionCookies(w, prefix)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) isAuthenticated(w http.ResponseWriter, r *http.Request) {
	callerID, ok := identity.IdentityIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	p, err := a.svc.Authenticate(r.Context(), callerID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) sendOtpCode(w http.ResponseWriter, r *http.Request, class identity.Class) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SendOtpCode(r.Context(), class, req.Email); err != nil {
		obs.IncOTP("send", "error")
		a.handleAuthError(w, r, err)
		return
	}
	obs.IncOTP("send", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func (a *API) verifyOtpCode(w http.ResponseWriter, r *http.Request, class identity.Class) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	if err := a.svc.VerifyOtpCode(r.Context(), class, req.Email, req.Code); err != nil {
		obs.IncOTP("verify", "error")
		a.handleAuthError(w, r, err)
		return
	}
	obs.IncOTP("verify", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"status": "verified"})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request, class identity.Class) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), class, req.Email, req.Password); err != nil {
		obs.IncOTP("reset", "error")
		a.handleAuthError(w, r, err)
		return
	}
	obs.IncOTP("reset", "ok")
	_ = audit.LogEvent(r.Context(), "auth.password_reset", map[string]any{
		"class": string(class),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}

// --- cookies ---

func (a *API) setAccessCookie(w http.ResponseWriter, pair identity.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(a.opts.AccessTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   a.opts.Production,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) setRefreshCookie(w http.ResponseWriter, prefix string, class identity.Class, token string) {
	ttl := a.opts.UserRefreshCookieTTL
	if class == identity.ClassAdmin {
		ttl = a.opts.AdminRefreshCookieTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     prefix,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   a.opts.Production,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookies(w http.ResponseWriter, prefix string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.Production,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     prefix,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.Production,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- error mapping ---

func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrUnauthorized),
		errors.Is(err, identity.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrForbidden), errors.Is(err, identity.ErrBlocked):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrDeliveryFailed):
		writeError(w, r, http.StatusInternalServerError, err.Error())
	default:
		msg := "internal error"
		if !a.opts.Production {
			msg = err.Error()
		}
		writeError(w, r, http.StatusInternalServerError, msg)
	}
}

func loginResult(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, identity.ErrBlocked):
		return "blocked"
	default:
		return "error"
	}
}

func refreshResult(err error) string {
	switch {
	case errors.Is(err, identity.ErrUnauthorized):
		return "rejected"
	case errors.Is(err, identity.ErrForbidden):
		return "forbidden"
	case errors.Is(err, identity.ErrBlocked):
		return "blocked"
	case errors.Is(err, identity.ErrNotFound):
		return "unknown"
	default:
		return "error"
	}
}
