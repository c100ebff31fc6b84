package authn

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"auth_api/internal/auth"
	resp "auth_api/internal/lib/api/response"
	"auth_api/internal/models"

	"github.com/go-chi/render"
)

type ctxKey struct{}

type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (models.Account, error)
}

// New returns middleware that resolves the bearer token into an account and
// stores it in the request context. Requests without a valid token get 401.
func New(log *slog.Logger, authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthenticated(w, r)

				return
			}

			account, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if err != auth.ErrInvalidToken {
					log.Error("authentication failed", slog.Any("err", err))
				}

				unauthenticated(w, r)

				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountFromContext returns the account stored by the middleware.
func AccountFromContext(ctx context.Context) (models.Account, bool) {
	account, ok := ctx.Value(ctxKey{}).(models.Account)

	return account, ok
}

// BearerToken extracts the token from the Authorization header, empty if
// none is present.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}

	return strings.TrimSpace(header[len(prefix):])
}

func unauthenticated(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, resp.Error("Unauthenticated"))
}
