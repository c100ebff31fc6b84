package verifyEmail

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"auth_api/internal/auth"
	req_util "auth_api/internal/lib/api/request"
	resp "auth_api/internal/lib/api/response"
	sl "auth_api/internal/lib/logger"
	"auth_api/internal/models"
	"auth_api/internal/storage"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Redirect string              `json:"redirect"`
	Account  *models.AccountInfo `json:"account,omitempty"`
	Token    string              `json:"token,omitempty"`
}

type EmailVerifier interface {
	VerifyEmail(ctx context.Context, accountID int64, emailHash string, expires int64, signature string) (models.Account, string, error)
}

// New handles GET /email/verify/{id}/{hash}. The first valid consumption
// sets the verification timestamp and returns a fresh token; replays
// short-circuit to success.
func New(
	log *slog.Logger,
	verifier EmailVerifier,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verifyEmail.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("ip", req_util.ClientIP(r)),
		)

		accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			invalidLink(w, r)

			return
		}

		expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
		if err != nil {
			invalidLink(w, r)

			return
		}

		emailHash := chi.URLParam(r, "hash")
		signature := r.URL.Query().Get("signature")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		account, token, err := verifier.VerifyEmail(ctx, accountID, emailHash, expires, signature)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidLink):
				invalidLink(w, r)
			case errors.Is(err, storage.ErrAccountNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, Response{
					Response: resp.Error("User not found."),
					Redirect: "/verification-error",
				})
			default:
				log.Error("failed to verify email", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("email verification handled", slog.Int64("uid", account.ID))

		info := account.Info()

		render.JSON(w, r, Response{
			Response: resp.Message("Email verified successfully."),
			Redirect: "/login?verified=true",
			Account:  &info,
			Token:    token,
		})
	}
}

func invalidLink(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusForbidden)
	render.JSON(w, r, Response{
		Response: resp.Error("Invalid or expired verification link."),
		Redirect: "/verification-error",
	})
}
