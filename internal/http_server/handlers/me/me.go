package me

import (
	"log/slog"
	"net/http"

	"auth_api/internal/http_server/middleware/authn"
	resp "auth_api/internal/lib/api/response"
	"auth_api/internal/models"

	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Account models.AccountInfo `json:"account"`
}

// New handles GET /me for the account resolved by the auth middleware.
func New(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := authn.AccountFromContext(r.Context())
		if !ok {
			// Mounted behind the auth middleware, so this is a wiring bug.
			log.Error("no account in request context")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthenticated"))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Account:  account.Info(),
		})
	}
}
