package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"auth_api/internal/auth"
	"auth_api/internal/lib/jwt"
	"auth_api/internal/lib/signedurl"
	"auth_api/internal/models"
	"auth_api/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accessSecret = "test-access-secret"
	verifySecret = "test-verify-secret"
	baseURL      = "http://localhost:8080"
)

type fakeStore struct {
	nextAccountID int64
	nextTicketID  int64
	accounts      map[int64]models.Account
	tickets       map[int64]models.ResetTicket

	// now stamps password_changed_at and verified_at like the DB's NOW().
	now func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[int64]models.Account),
		tickets:  make(map[int64]models.ResetTicket),
		now:      time.Now,
	}
}

func (s *fakeStore) SaveAccount(_ context.Context, email, name string, passHash []byte) (models.Account, error) {
	for _, a := range s.accounts {
		if a.Email == email {
			return models.Account{}, storage.ErrAccountExists
		}
	}

	s.nextAccountID++
	now := s.now()

	account := models.Account{
		ID:                s.nextAccountID,
		Email:             email,
		Name:              name,
		PassHash:          passHash,
		PasswordChangedAt: now,
		CreatedAt:         now,
	}
	s.accounts[account.ID] = account

	return account, nil
}

func (s *fakeStore) AccountByEmail(_ context.Context, email string) (models.Account, error) {
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}

	return models.Account{}, storage.ErrAccountNotFound
}

func (s *fakeStore) AccountByID(_ context.Context, id int64) (models.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, storage.ErrAccountNotFound
	}

	return a, nil
}

func (s *fakeStore) MarkEmailVerified(_ context.Context, accountID int64) (bool, error) {
	a, ok := s.accounts[accountID]
	if !ok || a.VerifiedAt != nil {
		return false, nil
	}

	now := s.now()
	a.VerifiedAt = &now
	s.accounts[accountID] = a

	return true, nil
}

func (s *fakeStore) UpdatePassword(_ context.Context, accountID int64, passHash []byte) error {
	a, ok := s.accounts[accountID]
	if !ok {
		return storage.ErrAccountNotFound
	}

	a.PassHash = passHash
	a.PasswordChangedAt = s.now()
	s.accounts[accountID] = a

	return nil
}

func (s *fakeStore) SaveResetTicket(_ context.Context, accountID int64, email, tokenHash string, expiresAt time.Time) error {
	s.nextTicketID++

	s.tickets[s.nextTicketID] = models.ResetTicket{
		ID:        s.nextTicketID,
		AccountID: accountID,
		Email:     email,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}

	return nil
}

func (s *fakeStore) ResetTicketByHash(_ context.Context, tokenHash string) (models.ResetTicket, error) {
	for _, t := range s.tickets {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}

	return models.ResetTicket{}, storage.ErrTicketNotFound
}

func (s *fakeStore) ConsumeResetTicket(_ context.Context, ticketID int64) error {
	t, ok := s.tickets[ticketID]
	if !ok || t.UsedAt != nil {
		return storage.ErrTicketNotFound
	}

	now := s.now()
	t.UsedAt = &now
	s.tickets[ticketID] = t

	return nil
}

func (s *fakeStore) ConsumeResetTicketsForAccount(_ context.Context, accountID int64) error {
	for id, t := range s.tickets {
		if t.AccountID == accountID && t.UsedAt == nil {
			now := s.now()
			t.UsedAt = &now
			s.tickets[id] = t
		}
	}

	return nil
}

type fakeDenylist struct {
	denied map[string]bool
}

func (d *fakeDenylist) DenyToken(_ context.Context, tokenID string, _ time.Duration) error {
	d.denied[tokenID] = true

	return nil
}

func (d *fakeDenylist) IsTokenDenied(_ context.Context, tokenID string) (bool, error) {
	return d.denied[tokenID], nil
}

type fakeLimiter struct {
	attempts map[string]int
}

func (l *fakeLimiter) AllowLoginAttempt(_ context.Context, ip string, limit int, _ time.Duration) (bool, error) {
	l.attempts[ip]++

	return l.attempts[ip] <= limit, nil
}

type fakePublisher struct {
	messages []models.Message
}

func (p *fakePublisher) SendMessage(_ context.Context, msg models.Message) error {
	p.messages = append(p.messages, msg)

	return nil
}

type testEnv struct {
	svc       *auth.Auth
	store     *fakeStore
	denylist  *fakeDenylist
	limiter   *fakeLimiter
	publisher *fakePublisher
	signer    *signedurl.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore()
	denylist := &fakeDenylist{denied: make(map[string]bool)}
	limiter := &fakeLimiter{attempts: make(map[string]int)}
	publisher := &fakePublisher{}
	signer := signedurl.New(verifySecret)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := auth.New(log, store, store, store, denylist, limiter, publisher, signer, auth.Config{
		AccessTokenTTL:      15 * time.Minute,
		AccessTokenSecret:   accessSecret,
		VerificationLinkTTL: time.Hour,
		PasswordResetTTL:    time.Hour,
		LoginAttempts:       5,
		LoginWindow:         time.Minute,
		BaseURL:             baseURL,
	})
	require.NoError(t, err)

	return &testEnv{
		svc:       svc,
		store:     store,
		denylist:  denylist,
		limiter:   limiter,
		publisher: publisher,
		signer:    signer,
	}
}

func (e *testEnv) register(t *testing.T, email, name, pass string) models.Account {
	t.Helper()

	account, err := e.svc.Register(context.Background(), email, name, pass)
	require.NoError(t, err)

	return account
}

func (e *testEnv) verify(t *testing.T, account models.Account) {
	t.Helper()

	hash := signedurl.EmailHash(account.Email)
	expires, sig := e.signer.Sign(account.ID, hash, time.Now().Add(time.Hour))

	_, _, err := e.svc.VerifyEmail(context.Background(), account.ID, hash, expires, sig)
	require.NoError(t, err)
}

// lastLinkToken pulls the raw token out of the most recently published link.
func (e *testEnv) lastLinkToken(t *testing.T) string {
	t.Helper()

	require.NotEmpty(t, e.publisher.messages)

	link, err := url.Parse(e.publisher.messages[len(e.publisher.messages)-1].Link)
	require.NoError(t, err)

	return link.Query().Get("token")
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "Alice@X.com", "Alice", "Abcdef123!")

	assert.Equal(t, "alice@x.com", account.Email, "email is normalized")
	assert.Nil(t, account.VerifiedAt)
	assert.NotEqual(t, []byte("Abcdef123!"), account.PassHash)

	require.Len(t, env.publisher.messages, 1)
	assert.Equal(t, "email_verification", env.publisher.messages[0].Purpose)
	assert.Equal(t, "alice@x.com", env.publisher.messages[0].Email)
	assert.Contains(t, env.publisher.messages[0].Link, baseURL+"/email/verify/")

	_, err := env.svc.Register(ctx, "alice@x.com", "Other Alice", "Abcdef123!")
	assert.ErrorIs(t, err, auth.ErrAccountExists)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")

	t.Run("unverified account is blocked", func(t *testing.T) {
		_, _, err := env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "1.2.3.4")
		assert.ErrorIs(t, err, auth.ErrEmailNotVerified)
	})

	env.verify(t, account)

	t.Run("unknown email and wrong password fail the same way", func(t *testing.T) {
		_, _, err := env.svc.Login(ctx, "nobody@x.com", "Abcdef123!", "1.2.3.4")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		_, _, err = env.svc.Login(ctx, "alice@x.com", "WrongPass1!", "1.2.3.4")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("valid credentials yield a usable token", func(t *testing.T) {
		got, token, err := env.svc.Login(ctx, "Alice@X.com", "Abcdef123!", "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)

		claims, err := jwt.ParseToken(token, accessSecret)
		require.NoError(t, err)
		assert.Equal(t, account.ID, claims.AccountID)

		authed, err := env.svc.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, account.ID, authed.ID)
	})
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")
	env.verify(t, account)

	for i := 0; i < 5; i++ {
		_, _, err := env.svc.Login(ctx, "alice@x.com", "WrongPass1!", "1.2.3.4")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	// Sixth attempt is throttled even with the right password.
	_, _, err := env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "1.2.3.4")
	assert.ErrorIs(t, err, auth.ErrRateLimited)

	// Another client IP is unaffected.
	_, _, err = env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "5.6.7.8")
	assert.NoError(t, err)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")
	env.verify(t, account)

	_, token, err := env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, token))

	_, err = env.svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	t.Run("idempotent without a valid token", func(t *testing.T) {
		assert.NoError(t, env.svc.Logout(ctx, ""))
		assert.NoError(t, env.svc.Logout(ctx, "garbage"))
		assert.NoError(t, env.svc.Logout(ctx, token))
	})
}

func TestVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")

	hash := signedurl.EmailHash(account.Email)
	expires, sig := env.signer.Sign(account.ID, hash, time.Now().Add(time.Hour))

	t.Run("tampered signature is rejected", func(t *testing.T) {
		_, _, err := env.svc.VerifyEmail(ctx, account.ID, hash, expires, sig+"00")
		assert.ErrorIs(t, err, auth.ErrInvalidLink)
	})

	t.Run("unknown account", func(t *testing.T) {
		otherExpires, otherSig := env.signer.Sign(999, hash, time.Now().Add(time.Hour))
		_, _, err := env.svc.VerifyEmail(ctx, 999, hash, otherExpires, otherSig)
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	})

	t.Run("hash for a different email is rejected", func(t *testing.T) {
		wrongHash := signedurl.EmailHash("bob@x.com")
		wrongExpires, wrongSig := env.signer.Sign(account.ID, wrongHash, time.Now().Add(time.Hour))
		_, _, err := env.svc.VerifyEmail(ctx, account.ID, wrongHash, wrongExpires, wrongSig)
		assert.ErrorIs(t, err, auth.ErrInvalidLink)
	})

	t.Run("first consumption sets the timestamp and issues a token", func(t *testing.T) {
		got, token, err := env.svc.VerifyEmail(ctx, account.ID, hash, expires, sig)
		require.NoError(t, err)
		require.NotNil(t, got.VerifiedAt)
		require.NotEmpty(t, token)

		authed, err := env.svc.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, account.ID, authed.ID)
	})

	t.Run("replay succeeds without changing the timestamp", func(t *testing.T) {
		first, err := env.store.AccountByID(ctx, account.ID)
		require.NoError(t, err)

		got, token, err := env.svc.VerifyEmail(ctx, account.ID, hash, expires, sig)
		require.NoError(t, err)
		assert.Empty(t, token, "no fresh token on replay")

		second, err := env.store.AccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, first.VerifiedAt, second.VerifiedAt)
		assert.NotNil(t, got.VerifiedAt)
	})

	t.Run("expired link is rejected", func(t *testing.T) {
		expiredAt, expiredSig := env.signer.Sign(account.ID, hash, time.Now().Add(-time.Minute))
		_, _, err := env.svc.VerifyEmail(ctx, account.ID, hash, expiredAt, expiredSig)
		assert.ErrorIs(t, err, auth.ErrInvalidLink)
	})
}

func TestRequestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")
	env.verify(t, account)
	mailCount := len(env.publisher.messages)

	t.Run("unknown email is a silent no-op", func(t *testing.T) {
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "nobody@x.com"))
		assert.Len(t, env.publisher.messages, mailCount)
		assert.Empty(t, env.store.tickets)
	})

	t.Run("known email gets a hashed ticket and a link", func(t *testing.T) {
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@x.com"))
		require.Len(t, env.publisher.messages, mailCount+1)

		msg := env.publisher.messages[len(env.publisher.messages)-1]
		assert.Equal(t, "password_reset", msg.Purpose)
		assert.Equal(t, "alice@x.com", msg.Email)

		token := env.lastLinkToken(t)
		require.NotEmpty(t, token)

		require.Len(t, env.store.tickets, 1)
		for _, ticket := range env.store.tickets {
			assert.NotEqual(t, token, ticket.TokenHash, "only the hash is stored")
			assert.Equal(t, account.ID, ticket.AccountID)
		}
	})
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")
	env.verify(t, account)

	// Stamp password changes a little in the future so tokens issued in the
	// same second as the reset still count as pre-reset.
	env.store.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	_, oldToken, err := env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@x.com"))
	token := env.lastLinkToken(t)

	t.Run("wrong email binding is rejected", func(t *testing.T) {
		err := env.svc.ResetPassword(ctx, "bob@x.com", token, "Newpass123!")
		assert.ErrorIs(t, err, auth.ErrInvalidTicket)
	})

	t.Run("unknown token is rejected", func(t *testing.T) {
		err := env.svc.ResetPassword(ctx, "alice@x.com", "deadbeef", "Newpass123!")
		assert.ErrorIs(t, err, auth.ErrInvalidTicket)
	})

	t.Run("successful reset rotates the password and revokes tokens", func(t *testing.T) {
		require.NoError(t, env.svc.ResetPassword(ctx, "alice@x.com", token, "Newpass123!"))

		_, _, err := env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "9.9.9.9")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "old password no longer works")

		_, _, err = env.svc.Login(ctx, "alice@x.com", "Newpass123!", "9.9.9.8")
		assert.NoError(t, err, "new password works")

		_, err = env.svc.Authenticate(ctx, oldToken)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, "pre-reset token is revoked")
	})

	t.Run("ticket is single use", func(t *testing.T) {
		err := env.svc.ResetPassword(ctx, "alice@x.com", token, "Another123!")
		assert.ErrorIs(t, err, auth.ErrInvalidTicket)
	})
}

func TestResetPassword_ExpiredTicket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")
	env.verify(t, account)

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@x.com"))
	token := env.lastLinkToken(t)

	env.svc.NowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }

	err := env.svc.ResetPassword(ctx, "alice@x.com", token, "Newpass123!")
	assert.ErrorIs(t, err, auth.ErrInvalidTicket)
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")
	mailCount := len(env.publisher.messages)

	t.Run("unknown email is a silent no-op", func(t *testing.T) {
		require.NoError(t, env.svc.ResendVerification(ctx, "nobody@x.com"))
		assert.Len(t, env.publisher.messages, mailCount)
	})

	t.Run("unverified account gets a fresh link", func(t *testing.T) {
		require.NoError(t, env.svc.ResendVerification(ctx, "alice@x.com"))
		require.Len(t, env.publisher.messages, mailCount+1)
		assert.Equal(t, "email_verification", env.publisher.messages[mailCount].Purpose)
	})

	t.Run("verified account is a no-op", func(t *testing.T) {
		env.verify(t, account)

		count := len(env.publisher.messages)
		require.NoError(t, env.svc.ResendVerification(ctx, "alice@x.com"))
		assert.Len(t, env.publisher.messages, count)
	})
}

// TestAccountLifecycle walks the whole journey: register, blocked login,
// verification, login, authenticated access, logout.
func TestAccountLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice@x.com", "Alice", "Abcdef123!")

	_, _, err := env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "1.2.3.4")
	require.ErrorIs(t, err, auth.ErrEmailNotVerified)

	env.verify(t, account)

	got, token, err := env.svc.Login(ctx, "alice@x.com", "Abcdef123!", "1.2.3.4")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	authed, err := env.svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, got.ID, authed.ID)
	assert.Equal(t, "Alice", authed.Name)

	require.NoError(t, env.svc.Logout(ctx, token))

	_, err = env.svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
