package register

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
	"auth_api/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

type Response struct {
	resp.Response
	Account models.AccountInfo `json:"account"`
}

type AccountRegistrator interface {
	Register(ctx context.Context, email, name, pass string) (models.Account, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	registrator AccountRegistrator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		log.Info("Request body decoded")

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

		account, err := registrator.Register(ctx, req.Email, req.Name, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrAccountExists) {
				render.Status(r, http.StatusUnprocessableEntity)
				render.JSON(w, r, resp.FieldErrors(map[string][]string{
					"email": {"This email address is already registered."},
				}))

				return
			}

			log.Error("failed to register account", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("Account registered", slog.Int64("id", account.ID))

		ResponseOK(w, r, account)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, account models.Account) {
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, Response{
		Response: resp.Message("Registration successful. Please check your email for verification link."),
		Account:  account.Info(),
	})
}
