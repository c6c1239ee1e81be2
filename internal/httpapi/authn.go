package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"villaops.org/internal/auth"
	"villaops.org/internal/obs"
	"villaops.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type providerUserKey struct{}

// withAuth resolves the bearer token into a provider user and, when a
// profile exists, an auth.User. Callers without a profile are authenticated
// but hold no permissions.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if a.provider == nil {
			writeError(w, r, http.StatusServiceUnavailable, "identity provider unavailable")
			return
		}

		token, err := tokenFromRequest(r)
		if err != nil {
			writeErrorKind(w, r, http.StatusUnauthorized, session.KindInvalidToken, err.Error())
			return
		}
		pu, err := a.provider.GetUser(r.Context(), token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithToken(r.Context(), token)
		ctx = context.WithValue(ctx, providerUserKey{}, pu)
		if a.profiles != nil {
			p, err := a.profiles.ProfileByID(ctx, pu.ID)
			switch {
			case err == nil:
				u, err := session.BuildUser(pu, p)
				if err != nil {
					obs.Logger().WarnContext(ctx, "profile has invalid role", "user_id", pu.ID, "error", err.Error())
					break
				}
				ctx = auth.ContextWithUser(ctx, u)
			case errors.Is(err, session.ErrProfileNotFound):
				obs.Logger().WarnContext(ctx, "authenticated user has no profile", "user_id", pu.ID)
			default:
				writeError(w, r, http.StatusInternalServerError, "profile lookup failed")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser returns the caller or writes 403 when the caller has no
// profile.
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErrorKind(w, r, http.StatusForbidden, session.KindForbidden, "no profile for authenticated user")
		return nil, false
	}
	return u, true
}

func providerUserFromContext(ctx context.Context) (session.ProviderUser, bool) {
	pu, ok := ctx.Value(providerUserKey{}).(session.ProviderUser)
	return pu, ok
}

// requireFeature writes 403 unless the caller may open feature.
func (a *API) requireFeature(w http.ResponseWriter, r *http.Request, feature auth.Feature) (*auth.User, bool) {
	u, ok := currentUser(w, r)
	if !ok {
		return nil, false
	}
	allowed := a.policy.CheckFeatureAccess(u, feature)
	obs.ObserveAccess("feature:"+string(feature), allowed)
	if !allowed {
		writeErrorKind(w, r, http.StatusForbidden, session.KindForbidden, "missing access to "+string(feature))
		return nil, false
	}
	return u, true
}

// tokenFromRequest reads the bearer header. Websocket handshakes may pass
// the token as access_token since browsers cannot set headers there.
func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get(authHeader); h != "" || !websocket.IsWebSocketUpgrade(r) {
		return extractBearerToken(h)
	}
	if tok := strings.TrimSpace(r.URL.Query().Get("access_token")); tok != "" {
		return tok, nil
	}
	return "", errors.New("missing bearer token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// handleAuthError maps provider failures to statuses. Anything that is not
// a ProviderError is a provider outage.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *session.ProviderError
	if !errors.As(err, &pe) {
		obs.Logger().ErrorContext(r.Context(), "identity provider failure", "error", err.Error())
		writeError(w, r, http.StatusBadGateway, "identity provider unavailable")
		return
	}
	writeErrorKind(w, r, statusForKind(pe.Kind), pe.Kind, pe.Error())
}

func statusForKind(kind session.ErrorKind) int {
	switch kind {
	case session.KindInvalidCredentials, session.KindInvalidToken, session.KindNoSession:
		return http.StatusUnauthorized
	case session.KindUserExists:
		return http.StatusConflict
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindForbidden:
		return http.StatusForbidden
	case session.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
