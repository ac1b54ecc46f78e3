package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tutorlink/tutorlink/internal/domain/profile"
	"github.com/tutorlink/tutorlink/internal/domain/user"
	"github.com/tutorlink/tutorlink/internal/observability"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailAlreadyUsed = errors.New("email already used")
)

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

type TutorProfileParams struct {
	Bio        string
	HourlyRate float64
	Subjects   []string
	PhotoURL   string
}

type ParentProfileParams struct {
	PreferredSubjects []string
}

type ChildProfileParams struct {
	GradeLevel string
	ParentID   *string
}

// CreateUserRequest describes a sign-up write. Exactly one of the profile
// params may be set, matching the account role; nil profile params for the
// role still create the (empty) profile row so the 1:1 invariant holds.
type CreateUserRequest struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         user.Role

	Tutor  *TutorProfileParams
	Parent *ParentProfileParams
	Child  *ChildProfileParams
}

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Create inserts the user row and its role profile row in one transaction, so
// a failed profile insert never leaves an orphaned account. A duplicate email
// surfaces as ErrEmailAlreadyUsed, translated from the unique constraint.
func (r *UsersRepo) Create(ctx context.Context, req CreateUserRequest) (user.User, error) {
	now := time.Now().UTC()

	u := user.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.observe("users.create", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, first_name, last_name, role, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role), u.CreatedAt, u.UpdatedAt,
		)
		if err != nil {
			return err
		}

		if err := r.createProfileTx(ctx, tx, u.ID, req, now); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, ErrEmailAlreadyUsed
		}

		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) createProfileTx(ctx context.Context, tx pgx.Tx, userID string, req CreateUserRequest, now time.Time) error {
	switch req.Role {
	case user.RoleTutor:
		p := req.Tutor
		if p == nil {
			p = &TutorProfileParams{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO tutor_profiles (user_id, bio, hourly_rate, subjects, photo_url, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			userID, p.Bio, p.HourlyRate, p.Subjects, p.PhotoURL, now, now,
		)
		return err

	case user.RoleParent:
		p := req.Parent
		if p == nil {
			p = &ParentProfileParams{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO parent_profiles (user_id, preferred_subjects, created_at, updated_at)
			 VALUES ($1,$2,$3,$4)`,
			userID, p.PreferredSubjects, now, now,
		)
		return err

	case user.RoleChild:
		p := req.Child
		if p == nil {
			p = &ChildProfileParams{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO child_profiles (user_id, grade_level, parent_id, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			userID, p.GradeLevel, p.ParentID, now, now,
		)
		return err
	}

	// admins carry no profile row
	return nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var role string

	err := r.observe("users.get_by_email", func() error {
		return r.pool.QueryRow(
			ctx,
			`SELECT id, email, password_hash, first_name, last_name, role, created_at, updated_at
			 FROM users
			 WHERE email = $1`,
			email,
		).Scan(
			&u.ID,
			&u.Email,
			&u.PasswordHash,
			&u.FirstName,
			&u.LastName,
			&role,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, ErrUserNotFound
		}

		return user.User{}, err
	}

	u.Role = user.Role(role)
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var role string

	err := r.observe("users.get_by_id", func() error {
		return r.pool.QueryRow(
			ctx,
			`SELECT id, email, password_hash, first_name, last_name, role, created_at, updated_at
			 FROM users
			 WHERE id = $1`,
			id,
		).Scan(
			&u.ID,
			&u.Email,
			&u.PasswordHash,
			&u.FirstName,
			&u.LastName,
			&role,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, ErrUserNotFound
		}

		return user.User{}, err
	}

	u.Role = user.Role(role)
	return u, nil
}

// UpdatePasswordTx runs inside the reset-password transaction so the token
// consume, the password write and the session revocation commit together.
func (r *UsersRepo) UpdatePasswordTx(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error {
	var tag pgconn.CommandTag
	var err error

	err = r.observe("users.update_password", func() error {
		tag, err = tx.Exec(ctx,
			`UPDATE users
			 SET password_hash = $2, updated_at = NOW()
			 WHERE id = $1`,
			userID, passwordHash,
		)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// List returns accounts newest first. Admin-only surface.
func (r *UsersRepo) List(ctx context.Context, limit int) ([]user.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []user.User

	err := r.observe("users.list", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, email, first_name, last_name, role, created_at, updated_at
			 FROM users
			 ORDER BY created_at DESC
			 LIMIT $1`,
			limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var u user.User
			var role string

			err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &role, &u.CreatedAt, &u.UpdatedAt)
			if err != nil {
				return err
			}

			u.Role = user.Role(role)
			out = append(out, u)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

var ErrProfileNotFound = errors.New("profile not found")

func (r *UsersRepo) GetTutorProfile(ctx context.Context, userID string) (profile.TutorProfile, error) {
	var p profile.TutorProfile

	err := r.observe("profiles.get_tutor", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT user_id, bio, hourly_rate, subjects, photo_url, created_at, updated_at
			 FROM tutor_profiles
			 WHERE user_id = $1`,
			userID,
		).Scan(&p.UserID, &p.Bio, &p.HourlyRate, &p.Subjects, &p.PhotoURL, &p.CreatedAt, &p.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.TutorProfile{}, ErrProfileNotFound
		}
		return profile.TutorProfile{}, err
	}

	return p, nil
}

func (r *UsersRepo) UpdateTutorProfile(ctx context.Context, userID string, req profile.UpdateTutorProfileRequest) (profile.TutorProfile, error) {
	err := r.observe("profiles.update_tutor", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE tutor_profiles
			 SET bio = COALESCE($2, bio),
			     hourly_rate = COALESCE($3, hourly_rate),
			     subjects = COALESCE($4, subjects),
			     updated_at = NOW()
			 WHERE user_id = $1`,
			userID, req.Bio, req.HourlyRate, req.Subjects,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrProfileNotFound
		}
		return nil
	})

	if err != nil {
		return profile.TutorProfile{}, err
	}

	return r.GetTutorProfile(ctx, userID)
}

func (r *UsersRepo) SetTutorPhotoURL(ctx context.Context, userID, photoURL string) error {
	return r.observe("profiles.set_tutor_photo", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE tutor_profiles SET photo_url = $2, updated_at = NOW() WHERE user_id = $1`,
			userID, photoURL,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrProfileNotFound
		}
		return nil
	})
}

// ListChildrenOfParent returns child accounts linked to a parent account.
func (r *UsersRepo) ListChildrenOfParent(ctx context.Context, parentID string) ([]user.User, error) {
	var out []user.User

	err := r.observe("profiles.list_children", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT u.id, u.email, u.first_name, u.last_name, u.role, u.created_at, u.updated_at
			 FROM users u
			 JOIN child_profiles c ON c.user_id = u.id
			 WHERE c.parent_id = $1
			 ORDER BY u.created_at ASC`,
			parentID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var u user.User
			var role string

			if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
				return err
			}

			u.Role = user.Role(role)
			out = append(out, u)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}
