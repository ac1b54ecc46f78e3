package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tutorlink/tutorlink/internal/repo/postgres"
)

// ResetTokensRepo mirrors the Postgres store for handler tests: consuming a
// token is atomic, and expired or consumed tokens are indistinguishable from
// unknown ones.
type ResetTokensRepo struct {
	mu   sync.Mutex
	rows map[string]postgres.ResetTokenRow // keyed by token hash
}

func NewResetTokensRepo() *ResetTokensRepo {
	return &ResetTokensRepo{rows: make(map[string]postgres.ResetTokenRow)}
}

func (r *ResetTokensRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return noopTx{}, nil
}

func (r *ResetTokensRepo) Create(ctx context.Context, tx pgx.Tx, row postgres.ResetTokenRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows[row.TokenHash] = row
	return nil
}

func (r *ResetTokensRepo) Consume(ctx context.Context, tx pgx.Tx, tokenHash string) (postgres.ResetTokenRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[tokenHash]
	if !ok {
		return postgres.ResetTokenRow{}, postgres.ErrResetTokenInvalid
	}

	now := time.Now().UTC()

	if row.ConsumedAt != nil || now.After(row.ExpiresAt) {
		return postgres.ResetTokenRow{}, postgres.ErrResetTokenInvalid
	}

	row.ConsumedAt = &now
	r.rows[tokenHash] = row
	return row, nil
}

func (r *ResetTokensRepo) InvalidateAllForUser(ctx context.Context, tx pgx.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	for hash, row := range r.rows {
		if row.UserID == userID && row.ConsumedAt == nil {
			row.ConsumedAt = &now
			r.rows[hash] = row
		}
	}
	return nil
}
