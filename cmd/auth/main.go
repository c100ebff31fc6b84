package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth_api/internal/auth"
	"auth_api/internal/config"
	"auth_api/internal/http_server/handlers/forgot_password"
	"auth_api/internal/http_server/handlers/login"
	"auth_api/internal/http_server/handlers/logout"
	"auth_api/internal/http_server/handlers/me"
	"auth_api/internal/http_server/handlers/register"
	resendEmail "auth_api/internal/http_server/handlers/resend_verification_email"
	"auth_api/internal/http_server/handlers/reset_password"
	verifyEmail "auth_api/internal/http_server/handlers/verify_email"
	"auth_api/internal/http_server/middleware/authn"
	rateLimit "auth_api/internal/http_server/middleware/ratelimit"
	sl "auth_api/internal/lib/logger"
	"auth_api/internal/lib/signedurl"
	"auth_api/internal/rabbitmq"
	"auth_api/internal/storage/postgres"
	redisrepo "auth_api/internal/storage/redis"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting auth api", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	cache, err := redisrepo.New(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Error("failed to connect redis", sl.Err(err))
		os.Exit(1)
	}
	defer cache.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", sl.Err(err))
		os.Exit(1)
	}
	defer msgBroker.Close()

	signer := signedurl.New(cfg.Tokens.VerificationSecret)

	authService, err := auth.New(
		log,
		storage,
		storage,
		storage,
		cache,
		cache,
		msgBroker,
		signer,
		auth.Config{
			AccessTokenTTL:      cfg.Tokens.AccessTokenTTL,
			AccessTokenSecret:   cfg.Tokens.AccessTokenSecret,
			VerificationLinkTTL: cfg.Tokens.VerificationLinkTTL,
			PasswordResetTTL:    cfg.Tokens.PasswordResetTTL,
			LoginAttempts:       cfg.RateLimit.LoginAttempts,
			LoginWindow:         cfg.RateLimit.LoginWindow,
			BaseURL:             cfg.HTTPServer.BaseURL,
		},
	)
	if err != nil {
		log.Error("failed to init auth service", sl.Err(err))
		os.Exit(1)
	}

	router := setupRouter(log, authService)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	authService *auth.Auth,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	validate := validator.New()

	r.With(rateLimit.Register()).Post("/register",
		register.New(log, validate, authService),
	)
	// Login throttling lives in the service, backed by the shared counter
	// store, so every instance sees the same attempt budget.
	r.Post("/login",
		login.New(log, validate, authService),
	)
	r.Post("/logout",
		logout.New(log, authService),
	)
	r.With(rateLimit.ForgotPassword()).Post("/forgot-password",
		forgotPassword.New(log, validate, authService),
	)
	r.With(rateLimit.ResetPassword()).Post("/reset-password",
		resetPassword.New(log, validate, authService),
	)
	r.With(rateLimit.Verify()).Get("/email/verify/{id}/{hash}",
		verifyEmail.New(log, authService),
	)
	r.With(rateLimit.ResendVerificationEmail()).Post("/email/verification-notification",
		resendEmail.New(log, validate, authService),
	)

	r.Group(func(r chi.Router) {
		r.Use(authn.New(log, authService))

		r.Get("/me", me.New(log))
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
