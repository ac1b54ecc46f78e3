package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tutorlink/tutorlink/internal/repo/postgres"
)

// RefreshTokensRepo is the in-memory counterpart of the Postgres store, used
// by handler tests. Same semantics: one entry per issued token, rotation
// revokes the predecessor.
type RefreshTokensRepo struct {
	mu   sync.Mutex
	rows map[string]postgres.RefreshTokenRow
}

func NewRefreshTokensRepo() *RefreshTokensRepo {
	return &RefreshTokensRepo{rows: make(map[string]postgres.RefreshTokenRow)}
}

// noopTx satisfies pgx.Tx for the handful of methods the auth flow calls.
// Everything else panics loudly if a test wanders off the expected path.
type noopTx struct {
	pgx.Tx
}

func (noopTx) Commit(ctx context.Context) error   { return nil }
func (noopTx) Rollback(ctx context.Context) error { return nil }

func (r *RefreshTokensRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return noopTx{}, nil
}

func (r *RefreshTokensRepo) Create(ctx context.Context, tx pgx.Tx, row postgres.RefreshTokenRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows[row.ID] = row
	return nil
}

func (r *RefreshTokensRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (postgres.RefreshTokenRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return postgres.RefreshTokenRow{}, postgres.ErrRefreshTokenNotFound
	}

	return row, nil
}

func (r *RefreshTokensRepo) Revoke(ctx context.Context, tx pgx.Tx, id string, replacedBy *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil // same as the SQL UPDATE touching zero rows
	}

	now := time.Now().UTC()
	row.RevokedAt = &now
	row.ReplacedBy = replacedBy
	r.rows[id] = row
	return nil
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, tx pgx.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	for id, row := range r.rows {
		if row.UserID == userID && row.RevokedAt == nil {
			row.RevokedAt = &now
			r.rows[id] = row
		}
	}
	return nil
}
