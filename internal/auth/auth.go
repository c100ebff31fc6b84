package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"auth_api/internal/lib/jwt"
	sl "auth_api/internal/lib/logger"
	"auth_api/internal/lib/signedurl"
	"auth_api/internal/lib/verification"
	"auth_api/internal/models"
	"auth_api/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrInvalidToken       = errors.New("invalid access token")
	ErrInvalidTicket      = errors.New("invalid or expired reset ticket")
	ErrInvalidLink        = errors.New("invalid or expired verification link")
)

type AccountSaver interface {
	SaveAccount(ctx context.Context, email, name string, passHash []byte) (models.Account, error)
	MarkEmailVerified(ctx context.Context, accountID int64) (bool, error)
	UpdatePassword(ctx context.Context, accountID int64, passHash []byte) error
}

type AccountProvider interface {
	AccountByEmail(ctx context.Context, email string) (models.Account, error)
	AccountByID(ctx context.Context, id int64) (models.Account, error)
}

type TicketStore interface {
	SaveResetTicket(ctx context.Context, accountID int64, email, tokenHash string, expiresAt time.Time) error
	ResetTicketByHash(ctx context.Context, tokenHash string) (models.ResetTicket, error)
	ConsumeResetTicket(ctx context.Context, ticketID int64) error
	ConsumeResetTicketsForAccount(ctx context.Context, accountID int64) error
}

type TokenDenylist interface {
	DenyToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsTokenDenied(ctx context.Context, tokenID string) (bool, error)
}

type LoginLimiter interface {
	AllowLoginAttempt(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}

type Config struct {
	AccessTokenTTL      time.Duration
	AccessTokenSecret   string
	VerificationLinkTTL time.Duration
	PasswordResetTTL    time.Duration
	LoginAttempts       int
	LoginWindow         time.Duration
	BaseURL             string
}

type Auth struct {
	log         *slog.Logger
	accSaver    AccountSaver
	accProvider AccountProvider
	tickets     TicketStore
	denylist    TokenDenylist
	limiter     LoginLimiter
	publisher   verification.Publisher
	signer      *signedurl.Signer
	cfg         Config

	// comparisonHash absorbs a bcrypt compare on the unknown-account login
	// path so it costs the same as the wrong-password path.
	comparisonHash []byte

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func New(
	log *slog.Logger,
	accountSaver AccountSaver,
	accountProvider AccountProvider,
	tickets TicketStore,
	denylist TokenDenylist,
	limiter LoginLimiter,
	publisher verification.Publisher,
	signer *signedurl.Signer,
	cfg Config,
) (*Auth, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("auth.New: %w", err)
	}

	comparisonHash, err := bcrypt.GenerateFromPassword(nonce, bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth.New: %w", err)
	}

	return &Auth{
		log:            log,
		accSaver:       accountSaver,
		accProvider:    accountProvider,
		tickets:        tickets,
		denylist:       denylist,
		limiter:        limiter,
		publisher:      publisher,
		signer:         signer,
		cfg:            cfg,
		comparisonHash: comparisonHash,
		NowFunc:        time.Now,
	}, nil
}

// Register creates an unverified account and queues a verification link.
// No access token is issued until the email is verified.
func (a *Auth) Register(
	ctx context.Context,
	email, name, pass string,
) (models.Account, error) {
	const op = "auth.Register"

	log := a.log.With(slog.String("op", op))

	email = NormalizeEmail(email)

	passHash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}

	account, err := a.accSaver.SaveAccount(ctx, email, name, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			log.Warn("account already exists")

			return models.Account{}, fmt.Errorf("%s: %w", op, ErrAccountExists)
		}

		log.Error("failed to save account", sl.Err(err))

		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}

	// A failed publish is not fatal: the account exists and the link can be
	// re-requested through the resend endpoint.
	if err := verification.SendVerificationLink(
		ctx, log, a.publisher, a.signer, a.cfg.VerificationLinkTTL,
		account.ID, a.cfg.BaseURL, account.Email,
	); err != nil {
		log.Error("failed to queue verification link", sl.Err(err))
	}

	log.Info("account registered",
		slog.Int64("uid", account.ID),
		slog.String("email", account.Email),
	)

	return account, nil
}

// Login checks the throttle, then the credentials, then the verification
// status, each on its own failure branch. Unknown account and wrong password
// produce the same error.
func (a *Auth) Login(
	ctx context.Context,
	email, pass, clientIP string,
) (models.Account, string, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	allowed, err := a.limiter.AllowLoginAttempt(ctx, clientIP, a.cfg.LoginAttempts, a.cfg.LoginWindow)
	if err != nil {
		// Fail open: a broken counter should not lock everyone out.
		log.Warn("login limiter unavailable", sl.Err(err))
		allowed = true
	}
	if !allowed {
		log.Warn("login throttled", slog.String("ip", clientIP))

		return models.Account{}, "", ErrRateLimited
	}

	email = NormalizeEmail(email)

	account, err := a.accProvider.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			_ = bcrypt.CompareHashAndPassword(a.comparisonHash, []byte(pass))
			log.Info("login failed, account not found")

			return models.Account{}, "", ErrInvalidCredentials
		}

		log.Error("failed to get account", sl.Err(err))

		return models.Account{}, "", fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(account.PassHash, []byte(pass)); err != nil {
		log.Info("login failed, password mismatch", slog.Int64("uid", account.ID))

		return models.Account{}, "", ErrInvalidCredentials
	}

	if !account.IsVerified() {
		log.Info("login blocked, email not verified", slog.Int64("uid", account.ID))

		return models.Account{}, "", ErrEmailNotVerified
	}

	token, err := jwt.NewToken(account, a.cfg.AccessTokenTTL, a.cfg.AccessTokenSecret)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))

		return models.Account{}, "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("login successful", slog.Int64("uid", account.ID))

	return account, token, nil
}

// Authenticate resolves a bearer token into its account. Used by the auth
// middleware on every protected request.
func (a *Auth) Authenticate(ctx context.Context, rawToken string) (models.Account, error) {
	const op = "auth.Authenticate"

	claims, err := jwt.ParseToken(rawToken, a.cfg.AccessTokenSecret)
	if err != nil {
		return models.Account{}, ErrInvalidToken
	}

	denied, err := a.denylist.IsTokenDenied(ctx, claims.TokenID)
	if err != nil {
		a.log.Error("failed to check token denylist", slog.String("op", op), sl.Err(err))

		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	if denied {
		return models.Account{}, ErrInvalidToken
	}

	account, err := a.accProvider.AccountByID(ctx, claims.AccountID)
	if err != nil {
		return models.Account{}, ErrInvalidToken
	}

	// Tokens issued before the last password change are revoked wholesale.
	if claims.IssuedAt.Before(account.PasswordChangedAt.Truncate(time.Second)) {
		return models.Account{}, ErrInvalidToken
	}

	return account, nil
}

// Logout denies the presented token for its remaining lifetime. A missing or
// garbage token is not an error: logout is idempotent.
func (a *Auth) Logout(ctx context.Context, rawToken string) error {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	claims, err := jwt.ParseToken(rawToken, a.cfg.AccessTokenSecret)
	if err != nil {
		log.Info("logout with no valid token")

		return nil
	}

	if err := a.denylist.DenyToken(ctx, claims.TokenID, time.Until(claims.ExpiresAt)); err != nil {
		log.Error("failed to deny token", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("logout successful", slog.Int64("uid", claims.AccountID))

	return nil
}

// RequestPasswordReset issues a reset ticket if the email is registered.
// The outcome is identical either way, so callers cannot probe for accounts.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "auth.RequestPasswordReset"

	log := a.log.With(slog.String("op", op))

	email = NormalizeEmail(email)

	account, err := a.accProvider.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			log.Info("password reset requested for unknown email")

			return nil
		}

		log.Error("failed to get account", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	token, err := newTicketToken()
	if err != nil {
		log.Error("failed to generate reset token", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	expiresAt := a.NowFunc().Add(a.cfg.PasswordResetTTL)

	if err := a.tickets.SaveResetTicket(ctx, account.ID, email, hashTicketToken(token), expiresAt); err != nil {
		log.Error("failed to save reset ticket", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := verification.SendResetLink(ctx, log, a.publisher, a.cfg.BaseURL, email, token); err != nil {
		log.Error("failed to queue reset link", sl.Err(err))
	}

	log.Info("password reset requested", slog.Int64("uid", account.ID))

	return nil
}

// ResetPassword consumes a reset ticket and replaces the password digest.
// Every access token issued before the change stops working.
func (a *Auth) ResetPassword(ctx context.Context, email, token, newPass string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	email = NormalizeEmail(email)

	ticket, err := a.tickets.ResetTicketByHash(ctx, hashTicketToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) {
			log.Info("reset ticket not found")

			return ErrInvalidTicket
		}

		log.Error("failed to get reset ticket", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	if ticket.Email != email {
		log.Info("reset ticket email mismatch")

		return ErrInvalidTicket
	}

	if !ticket.IsActive(a.NowFunc()) {
		log.Info("reset ticket expired or already used")

		return ErrInvalidTicket
	}

	// Consume first so a concurrent attempt with the same ticket loses.
	if err := a.tickets.ConsumeResetTicket(ctx, ticket.ID); err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) {
			return ErrInvalidTicket
		}

		log.Error("failed to consume reset ticket", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPass), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.accSaver.UpdatePassword(ctx, ticket.AccountID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.tickets.ConsumeResetTicketsForAccount(ctx, ticket.AccountID); err != nil {
		log.Warn("failed to close remaining reset tickets", sl.Err(err))
	}

	log.Info("password reset completed", slog.Int64("uid", ticket.AccountID))

	return nil
}

// VerifyEmail consumes a signed verification link. Replays succeed without
// touching the already-set timestamp; the first consumption also issues an
// access token so the client can continue authenticated.
func (a *Auth) VerifyEmail(
	ctx context.Context,
	accountID int64,
	emailHash string,
	expires int64,
	signature string,
) (models.Account, string, error) {
	const op = "auth.VerifyEmail"

	log := a.log.With(slog.String("op", op))

	if err := a.signer.Verify(accountID, emailHash, expires, signature, a.NowFunc()); err != nil {
		log.Info("invalid verification link", sl.Err(err))

		return models.Account{}, "", ErrInvalidLink
	}

	account, err := a.accProvider.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return models.Account{}, "", storage.ErrAccountNotFound
		}

		log.Error("failed to get account", sl.Err(err))

		return models.Account{}, "", fmt.Errorf("%s: %w", op, err)
	}

	// The link must match the account's current email.
	if !hmac.Equal([]byte(emailHash), []byte(signedurl.EmailHash(account.Email))) {
		log.Info("verification hash mismatch", slog.Int64("uid", account.ID))

		return models.Account{}, "", ErrInvalidLink
	}

	if account.IsVerified() {
		log.Info("email already verified", slog.Int64("uid", account.ID))

		return account, "", nil
	}

	changed, err := a.accSaver.MarkEmailVerified(ctx, account.ID)
	if err != nil {
		log.Error("failed to mark email verified", sl.Err(err))

		return models.Account{}, "", fmt.Errorf("%s: %w", op, err)
	}

	now := a.NowFunc()
	account.VerifiedAt = &now

	if !changed {
		// Lost a race against another consumption of the same link.
		return account, "", nil
	}

	token, err := jwt.NewToken(account, a.cfg.AccessTokenTTL, a.cfg.AccessTokenSecret)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))

		return models.Account{}, "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified", slog.Int64("uid", account.ID), slog.String("email", account.Email))

	return account, token, nil
}

// ResendVerification queues a fresh verification link for an unverified
// account. Unknown and already-verified addresses are silent no-ops, so the
// endpoint discloses nothing about which emails are registered.
func (a *Auth) ResendVerification(ctx context.Context, email string) error {
	const op = "auth.ResendVerification"

	log := a.log.With(slog.String("op", op))

	account, err := a.accProvider.AccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			log.Info("verification resend requested for unknown email")

			return nil
		}

		log.Error("failed to get account", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	if account.IsVerified() {
		return nil
	}

	if err := verification.SendVerificationLink(
		ctx, log, a.publisher, a.signer, a.cfg.VerificationLinkTTL,
		account.ID, a.cfg.BaseURL, account.Email,
	); err != nil {
		log.Error("failed to queue verification link", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("verification link resent", slog.Int64("uid", account.ID))

	return nil
}

// NormalizeEmail lowercases and trims an address so lookups and the unique
// index agree on a single representation.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newTicketToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

func hashTicketToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}
