package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"auth_api/internal/auth"
	req_util "auth_api/internal/lib/api/request"
	resp "auth_api/internal/lib/api/response"
	sl "auth_api/internal/lib/logger"
	"auth_api/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
	Pass  string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	Account models.AccountInfo `json:"account"`
	Token   string             `json:"token"`
}

type verificationRequired struct {
	resp.Response
	EmailVerificationRequired bool `json:"email_verification_required"`
}

type AccountLoginer interface {
	Login(ctx context.Context, email, pass, clientIP string) (models.Account, string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	loginer AccountLoginer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

		clientIP := req_util.ClientIP(r)

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("ip", clientIP),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Info("Invalid request", sl.Err(err))

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		account, token, err := loginer.Login(ctx, req.Email, req.Pass, clientIP)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrRateLimited):
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, resp.Error("Too many login attempts. Please try again later."))
			case errors.Is(err, auth.ErrInvalidCredentials):
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("The provided credentials are incorrect."))
			case errors.Is(err, auth.ErrEmailNotVerified):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, verificationRequired{
					Response:                  resp.Error("Please verify your email address before logging in."),
					EmailVerificationRequired: true,
				})
			default:
				log.Error("failed to login", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("Login successful", slog.Int64("uid", account.ID))

		ResponseOK(w, r, account, token)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, account models.Account, token string) {
	render.JSON(w, r, Response{
		Response: resp.Message("Login successful"),
		Account:  account.Info(),
		Token:    token,
	})
}
