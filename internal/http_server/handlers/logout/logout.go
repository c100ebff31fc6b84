package logout

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	resp "auth_api/internal/lib/api/response"
	sl "auth_api/internal/lib/logger"
	"auth_api/internal/http_server/middleware/authn"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type SessionRevoker interface {
	Logout(ctx context.Context, rawToken string) error
}

// New handles POST /logout. The presented token is revoked for the rest of
// its lifetime; calling it without an active token still succeeds.
func New(
	log *slog.Logger,
	revoker SessionRevoker,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := revoker.Logout(ctx, authn.BearerToken(r)); err != nil {
			log.Error("failed to logout", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("logout handled")

		render.JSON(w, r, resp.Message("Logout successful"))
	}
}
