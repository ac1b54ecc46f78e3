package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tutorlink/tutorlink/internal/observability"
)

// ErrResetTokenInvalid covers unknown, expired and already-consumed tokens.
// Callers must not be able to tell these apart.
var ErrResetTokenInvalid = errors.New("reset token invalid")

type ResetTokenRow struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

type ResetTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewResetTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *ResetTokensRepo {
	return &ResetTokensRepo{pool: pool, prom: prom}
}

func (r *ResetTokensRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *ResetTokensRepo) Create(ctx context.Context, tx pgx.Tx, row ResetTokenRow) error {
	return r.observe("reset_tokens.create", func() error {
		_, err := tx.Exec(ctx,
			`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, consumed_at, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			row.ID, row.UserID, row.TokenHash, row.ExpiresAt, row.ConsumedAt, row.CreatedAt,
		)
		return err
	})
}

// Consume marks the token used in the same statement that checks validity, so
// a replayed token loses the race in SQL rather than in Go. Expiry is
// enforced here at read time, not just stored.
func (r *ResetTokensRepo) Consume(ctx context.Context, tx pgx.Tx, tokenHash string) (ResetTokenRow, error) {
	var row ResetTokenRow

	err := r.observe("reset_tokens.consume", func() error {
		return tx.QueryRow(ctx, `
			UPDATE password_reset_tokens
			SET consumed_at = NOW()
			WHERE token_hash = $1
			  AND consumed_at IS NULL
			  AND expires_at > NOW()
			RETURNING id, user_id, token_hash, expires_at, consumed_at, created_at
		`, tokenHash).Scan(
			&row.ID,
			&row.UserID,
			&row.TokenHash,
			&row.ExpiresAt,
			&row.ConsumedAt,
			&row.CreatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResetTokenRow{}, ErrResetTokenInvalid
		}

		return ResetTokenRow{}, err
	}

	return row, nil
}

// InvalidateAllForUser retires earlier outstanding tokens when a new one is
// requested; only the most recent link works.
func (r *ResetTokensRepo) InvalidateAllForUser(ctx context.Context, tx pgx.Tx, userID string) error {
	return r.observe("reset_tokens.invalidate_all", func() error {
		_, err := tx.Exec(ctx, `
			UPDATE password_reset_tokens
			SET consumed_at = NOW()
			WHERE user_id = $1 AND consumed_at IS NULL
		`, userID)

		return err
	})
}

func (r *ResetTokensRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}
