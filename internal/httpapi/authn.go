package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"mercaro.shop/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireAuth gates a handler on a verified access token for the given
// identity class. The token is taken from the Authorization header first,
// then from the access cookie.
func (a *API) requireAuth(class identity.Class, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := accessTokenFromRequest(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid access token")
			return
		}
		if claims.Class != class {
			writeError(w, r, http.StatusForbidden, "wrong identity class")
			return
		}

		ctx := identity.ContextWithClaims(r.Context(), claims)
		next(w, r.WithContext(ctx))
	}
}

func accessTokenFromRequest(r *http.Request) (string, error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		return extractBearerToken(header)
	}
	if cookie, err := r.Cookie(accessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errors.New("missing access token")
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
