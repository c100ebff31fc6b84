package verification

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"auth_api/internal/lib/signedurl"
	"auth_api/internal/models"
)

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

// SendVerificationLink signs a verification URL for the account and hands it
// to the email queue.
func SendVerificationLink(
	ctx context.Context,
	log *slog.Logger,
	pub Publisher,
	signer *signedurl.Signer,
	linkTTL time.Duration,
	accountID int64,
	baseURL, email string,
) error {
	hash := signedurl.EmailHash(email)
	expires, signature := signer.Sign(accountID, hash, time.Now().Add(linkTTL))

	verifyLink := fmt.Sprintf("%s/email/verify/%d/%s?expires=%d&signature=%s",
		baseURL, accountID, hash, expires, signature)

	msg := models.Message{
		Email:   email,
		Link:    verifyLink,
		Purpose: "email_verification",
	}

	if err := pub.SendMessage(ctx, msg); err != nil {
		log.Error("failed to send verification link", slog.Any("err", err))

		return err
	}

	return nil
}

// SendResetLink hands a password reset link to the email queue. The raw
// ticket token is only ever embedded here, storage keeps its hash.
func SendResetLink(
	ctx context.Context,
	log *slog.Logger,
	pub Publisher,
	baseURL, email, token string,
) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s&email=%s",
		baseURL, token, url.QueryEscape(email))

	msg := models.Message{
		Email:   email,
		Link:    resetLink,
		Purpose: "password_reset",
	}

	if err := pub.SendMessage(ctx, msg); err != nil {
		log.Error("failed to send reset link", slog.Any("err", err))

		return err
	}

	return nil
}
