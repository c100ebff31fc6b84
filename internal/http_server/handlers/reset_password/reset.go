package resetPassword

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
	"auth_api/internal/lib/password"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Token                string `json:"token" validate:"required"`
	Email                string `json:"email" validate:"required,email"`
	Password             string `json:"password" validate:"required"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

type PasswordResetter interface {
	ResetPassword(ctx context.Context, email, token, newPass string) error
}

// New handles POST /reset-password. A consumed, expired or wrongly bound
// ticket fails the same way; the new password follows the registration
// complexity rules.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	resetter PasswordResetter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.resetPassword.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("ip", req_util.ClientIP(r)),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		fields := make(map[string][]string)

		if err := validate.Struct(req); err != nil {
			fields = resp.Fields(err.(validator.ValidationErrors))
		}

		if req.Password != "" {
			if msgs := password.Validate(req.Password); len(msgs) > 0 {
				fields["password"] = append(fields["password"], msgs...)
			}
		}

		if len(fields) > 0 {
			log.Info("Invalid request", slog.Int("field_errors", len(fields)))

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.FieldErrors(fields))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := resetter.ResetPassword(ctx, req.Email, req.Token, req.Password); err != nil {
			if errors.Is(err, auth.ErrInvalidTicket) {
				render.Status(r, http.StatusUnprocessableEntity)
				render.JSON(w, r, resp.FieldErrors(map[string][]string{
					"token": {"This password reset token is invalid or has expired."},
				}))

				return
			}

			log.Error("failed to reset password", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("password reset handled")

		render.JSON(w, r, resp.Message("Your password has been reset."))
	}
}
