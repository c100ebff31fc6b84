package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auth_api/internal/config"
	"auth_api/internal/models"
	"auth_api/internal/storage"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// SaveAccount inserts a new account. Email uniqueness is enforced only by
// the unique index, so concurrent registrations with the same address can
// never both succeed.
func (r *PostgresRepo) SaveAccount(ctx context.Context, email, name string, passHash []byte) (models.Account, error) {
	const op = "storage.postgres.SaveAccount"

	query := `
		INSERT INTO accounts (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, name, password_hash, verified_at, password_changed_at, created_at;
	`

	var a models.Account

	err := r.pool.QueryRow(ctx, query, email, name, string(passHash)).Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&a.PassHash,
		&a.VerifiedAt,
		&a.PasswordChangedAt,
		&a.CreatedAt,
	)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return models.Account{}, storage.ErrAccountExists
		}

		return models.Account{}, fmt.Errorf("%s: failed to save account: %w", op, err)
	}

	return a, nil
}

func (r *PostgresRepo) AccountByEmail(ctx context.Context, email string) (models.Account, error) {
	query := `
		SELECT id, email, name, password_hash, verified_at, password_changed_at, created_at
		FROM accounts
		WHERE email = $1;
	`

	return r.scanAccount(r.pool.QueryRow(ctx, query, email))
}

func (r *PostgresRepo) AccountByID(ctx context.Context, id int64) (models.Account, error) {
	query := `
		SELECT id, email, name, password_hash, verified_at, password_changed_at, created_at
		FROM accounts
		WHERE id = $1;
	`

	return r.scanAccount(r.pool.QueryRow(ctx, query, id))
}

// MarkEmailVerified sets the verification timestamp once. Returns false when
// the account was already verified, so replayed links stay no-ops.
func (r *PostgresRepo) MarkEmailVerified(ctx context.Context, accountID int64) (bool, error) {
	const op = "storage.postgres.MarkEmailVerified"

	query := `
		UPDATE accounts
		SET verified_at = NOW()
		WHERE id = $1 AND verified_at IS NULL;
	`

	tag, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

// UpdatePassword replaces the digest and stamps password_changed_at, which
// invalidates every access token issued before the change.
func (r *PostgresRepo) UpdatePassword(ctx context.Context, accountID int64, passHash []byte) error {
	const op = "storage.postgres.UpdatePassword"

	query := `
		UPDATE accounts
		SET password_hash = $1, password_changed_at = NOW()
		WHERE id = $2;
	`

	tag, err := r.pool.Exec(ctx, query, string(passHash), accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

func (r *PostgresRepo) SaveResetTicket(ctx context.Context, accountID int64, email, tokenHash string, expiresAt time.Time) error {
	const op = "storage.postgres.SaveResetTicket"

	const query = `
		INSERT INTO reset_tickets (account_id, email, token_hash, expires_at)
		VALUES ($1, $2, $3, $4);
	`

	_, err := r.pool.Exec(ctx, query, accountID, email, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) ResetTicketByHash(ctx context.Context, tokenHash string) (models.ResetTicket, error) {
	const query = `
		SELECT id, account_id, email, token_hash, expires_at, used_at, created_at
		FROM reset_tickets
		WHERE token_hash = $1;
	`

	row := r.pool.QueryRow(ctx, query, tokenHash)

	var t models.ResetTicket
	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Email,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.UsedAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ResetTicket{}, storage.ErrTicketNotFound
		}

		return models.ResetTicket{}, err
	}

	return t, nil
}

// ConsumeResetTicket marks a ticket used. The used_at guard makes the ticket
// single-use even under concurrent reset attempts.
func (r *PostgresRepo) ConsumeResetTicket(ctx context.Context, ticketID int64) error {
	const op = "storage.postgres.ConsumeResetTicket"

	query := `
		UPDATE reset_tickets
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL;
	`

	tag, err := r.pool.Exec(ctx, query, ticketID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrTicketNotFound
	}

	return nil
}

// ConsumeResetTicketsForAccount closes every still-open ticket after a
// successful reset.
func (r *PostgresRepo) ConsumeResetTicketsForAccount(ctx context.Context, accountID int64) error {
	const op = "storage.postgres.ConsumeResetTicketsForAccount"

	query := `
		UPDATE reset_tickets
		SET used_at = NOW()
		WHERE account_id = $1 AND used_at IS NULL;
	`

	_, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) CleanupExpiredResetTickets(ctx context.Context) (int64, error) {
	const op = "storage.postgres.CleanupExpiredResetTickets"

	query := `DELETE FROM reset_tickets WHERE expires_at < NOW();`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (r *PostgresRepo) scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account

	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&a.PassHash,
		&a.VerifiedAt,
		&a.PasswordChangedAt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, storage.ErrAccountNotFound
		}

		return models.Account{}, err
	}

	return a, nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
