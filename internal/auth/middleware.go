package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Authenticator resolves the bearer token of each request into a session and
// principal. Requests without a token pass through anonymously; routes opt
// into authentication through rbac.Middleware.
func Authenticator(service *Service, principals rbac.PrincipalLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			sess, err := service.Resolve(ctx, raw)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, shared.ErrSessionExpired) {
					logger.Error("resolve session", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session expired, please sign in again")
				return
			}
			principal, err := principals.Principal(ctx, sess.UserID)
			if err != nil {
				if errors.Is(err, rbac.ErrNotFound) || errors.Is(err, rbac.ErrInactive) {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "account is not active")
					return
				}
				httpx.Error(w, r, logger, err)
				return
			}
			ctx = shared.ContextWithSession(ctx, sess)
			ctx = shared.ContextWithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
