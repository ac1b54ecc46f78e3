package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tutorlink/tutorlink/internal/auth"
	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/domain/job"
	"github.com/tutorlink/tutorlink/internal/domain/user"
	"github.com/tutorlink/tutorlink/internal/jobs"
	"github.com/tutorlink/tutorlink/internal/observability"
	"github.com/tutorlink/tutorlink/internal/repo/postgres"
	"github.com/tutorlink/tutorlink/internal/security"
	"github.com/tutorlink/tutorlink/internal/uploads"
)

type UserStore interface {
	Create(ctx context.Context, req postgres.CreateUserRequest) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	UpdatePasswordTx(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error
}

type RefreshTokenStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, row postgres.RefreshTokenRow) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (postgres.RefreshTokenRow, error)
	Revoke(ctx context.Context, tx pgx.Tx, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, tx pgx.Tx, userID string) error
}

type ResetTokenStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, row postgres.ResetTokenRow) error
	Consume(ctx context.Context, tx pgx.Tx, tokenHash string) (postgres.ResetTokenRow, error)
	InvalidateAllForUser(ctx context.Context, tx pgx.Tx, userID string) error
}

type JobsCreator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
}

type AuthHandler struct {
	users        UserStore
	jwt          *auth.Manager
	refreshStore RefreshTokenStore
	resetStore   ResetTokenStore
	jobs         JobsCreator
	uploader     uploads.Uploader
	prom         *observability.Prom
	cfg          config.Config
}

func NewAuthHandler(
	users UserStore,
	jwtManager *auth.Manager,
	refreshStore RefreshTokenStore,
	resetStore ResetTokenStore,
	jobsRepo JobsCreator,
	uploader uploads.Uploader,
	prom *observability.Prom,
	cfg config.Config,
) *AuthHandler {
	return &AuthHandler{
		users:        users,
		jwt:          jwtManager,
		refreshStore: refreshStore,
		resetStore:   resetStore,
		jobs:         jobsRepo,
		uploader:     uploader,
		prom:         prom,
		cfg:          cfg,
	}
}

// SignUpRequest is the role-discriminated registration payload. The base
// fields are required for every role; the extension fields are only legal for
// the role they belong to.
type SignUpRequest struct {
	Email     string `json:"email" form:"email" binding:"required,email"`
	Password  string `json:"password" form:"password" binding:"required,min=8"`
	FirstName string `json:"firstName" form:"firstName" binding:"required"`
	LastName  string `json:"lastName" form:"lastName" binding:"required"`
	Role      string `json:"role" form:"role" binding:"required"`

	// tutor extensions
	Bio        string   `json:"bio" form:"bio"`
	HourlyRate float64  `json:"hourlyRate" form:"hourlyRate" binding:"omitempty,gt=0"`
	Subjects   []string `json:"subjects" form:"subjects"`

	// parent extensions
	PreferredSubjects []string `json:"preferredSubjects" form:"preferredSubjects"`

	// child extensions
	GradeLevel string `json:"gradeLevel" form:"gradeLevel"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// resolveRole normalizes casing ("Tutor", "TUTOR" → tutor) and checks the
// extension fields match the declared role. Returns field errors in the same
// shape BindJSON produces so clients see one error format.
func resolveRole(req SignUpRequest) (user.Role, []FieldError) {
	role, err := user.ParseRole(req.Role)

	if err != nil {
		return "", []FieldError{{
			Field:   "role",
			Rule:    "oneof",
			Param:   "admin parent tutor child",
			Message: validationMessage("oneof", "admin parent tutor child"),
		}}
	}

	var fields []FieldError

	wrongRole := func(name string) {
		fields = append(fields, FieldError{
			Field:   name,
			Rule:    "role_mismatch",
			Message: "is not valid for role " + role.String(),
		})
	}

	if role != user.RoleTutor {
		if strings.TrimSpace(req.Bio) != "" {
			wrongRole("bio")
		}
		if req.HourlyRate != 0 {
			wrongRole("hourlyRate")
		}
		if len(req.Subjects) > 0 {
			wrongRole("subjects")
		}
	}

	if role != user.RoleParent && len(req.PreferredSubjects) > 0 {
		wrongRole("preferredSubjects")
	}

	if role != user.RoleChild && strings.TrimSpace(req.GradeLevel) != "" {
		wrongRole("gradeLevel")
	}

	if len(fields) > 0 {
		return "", fields
	}

	return role, nil
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	h.signUp(ctx, req, "")
}

// SignUpWithPhoto is the multipart variant: same DTO via form fields plus an
// optional "photo" file (image/*, ≤5MB) whose stored URL lands on the tutor
// profile.
func (h *AuthHandler) SignUpWithPhoto(ctx *gin.Context) {
	var req SignUpRequest

	if !BindForm(ctx, &req) {
		return
	}

	photoURL := ""

	file, err := ctx.FormFile("photo")

	if err == nil && file != nil {
		if file.Size > uploads.MaxPhotoBytes {
			RespondBadRequest(ctx, "Photo too large", gin.H{"fields": []FieldError{{
				Field:   "photo",
				Rule:    "max",
				Param:   "5MB",
				Message: "must be at most 5MB",
			}}})
			return
		}

		src, err := file.Open()
		if err != nil {
			RespondInternal(ctx, "Could not read photo")
			return
		}
		defer src.Close()

		contentType := file.Header.Get("Content-Type")

		url, err := h.uploader.Upload(ctx.Request.Context(), file.Filename, contentType, file.Size, src)

		if err != nil {
			if errors.Is(err, uploads.ErrNotAnImage) || errors.Is(err, uploads.ErrTooLarge) {
				RespondBadRequest(ctx, "Invalid photo", gin.H{"fields": []FieldError{{
					Field:   "photo",
					Rule:    "image",
					Message: "must be an image of at most 5MB",
				}}})
				return
			}

			RespondInternal(ctx, "Could not store photo")
			return
		}

		photoURL = url
	}

	h.signUp(ctx, req, photoURL)
}

func (h *AuthHandler) signUp(ctx *gin.Context, req SignUpRequest, photoURL string) {
	role, fieldErrs := resolveRole(req)

	if len(fieldErrs) > 0 {
		RespondBadRequest(ctx, "Invalid request body", gin.H{"fields": fieldErrs})
		return
	}

	if photoURL != "" && role != user.RoleTutor {
		RespondBadRequest(ctx, "Invalid request body", gin.H{"fields": []FieldError{{
			Field:   "photo",
			Rule:    "role_mismatch",
			Message: "is not valid for role " + role.String(),
		}}})
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	createReq := postgres.CreateUserRequest{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
	}

	switch role {
	case user.RoleTutor:
		createReq.Tutor = &postgres.TutorProfileParams{
			Bio:        req.Bio,
			HourlyRate: req.HourlyRate,
			Subjects:   req.Subjects,
			PhotoURL:   photoURL,
		}
	case user.RoleParent:
		createReq.Parent = &postgres.ParentProfileParams{
			PreferredSubjects: req.PreferredSubjects,
		}
	case user.RoleChild:
		createReq.Child = &postgres.ChildProfileParams{
			GradeLevel: req.GradeLevel,
		}
	}

	u, err := h.users.Create(cctx, createReq)

	if err != nil {
		if errors.Is(err, postgres.ErrEmailAlreadyUsed) {
			h.observeAuth("sign_up", "conflict")
			RespondConflict(ctx, "email_taken", "Email is already registered.")
			return
		}

		h.observeAuth("sign_up", "error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	accessToken, rawRefresh, refreshExpiresAt, err := h.issueTokens(cctx, u)

	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setRefreshCookie(ctx, rawRefresh, refreshExpiresAt)

	// welcome email is best effort; the account exists either way
	if payload, err := (jobs.WelcomePayload{
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		Role:      u.Role.String(),
	}).JSON(); err == nil {
		key := "welcome:" + u.ID
		uid := u.ID
		_, _ = h.jobs.Create(cctx, job.CreateRequest{
			Type:           string(jobs.JobSendWelcome),
			Payload:        payload,
			MaxAttempts:    10,
			IdempotencyKey: &key,
			UserID:         &uid,
		})
	}

	h.observeAuth("sign_up", "ok")

	ctx.JSON(http.StatusCreated, gin.H{
		"user":         u,
		"accessToken":  accessToken,
		"refreshToken": rawRefresh,
	})
}

func (h *AuthHandler) SignIn(ctx *gin.Context) {
	var req SignInRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		// unknown email and wrong password must be indistinguishable
		h.observeAuth("sign_in", "failed")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.observeAuth("sign_in", "failed")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	accessToken, rawRefresh, refreshExpiresAt, err := h.issueTokens(cctx, foundUser)

	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setRefreshCookie(ctx, rawRefresh, refreshExpiresAt)
	h.observeAuth("sign_in", "ok")

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": rawRefresh,
		"user":         foundUser,
	})
}

// Refresh rotates the refresh token: the presented id is revoked and replaced
// inside a transaction with a row lock, so a rotated-out token can never be
// replayed even under concurrent refreshes.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw := h.refreshTokenFromRequest(ctx)

	if raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		h.observeAuth("refresh", "failed")
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	row, err := h.refreshStore.GetForUpdate(cctx, tx, claims.JTI)

	if err != nil {
		h.observeAuth("refresh", "failed")
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if row.RevokedAt != nil {
		h.observeAuth("refresh", "failed")
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		h.observeAuth("refresh", "failed")
		RespondUnAuthorized(ctx, "expired_refresh", "Refresh token expired.")
		return
	}

	// verify hash matches the presented token (prevents token substitution)
	if row.TokenHash != h.jwt.HashToken(raw) {
		h.observeAuth("refresh", "failed")
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		return
	}

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(row.UserID, claims.Email, claims.Role)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	// revoke old, insert new
	err = h.refreshStore.Revoke(cctx, tx, row.ID, &newJTI)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	newRow := postgres.RefreshTokenRow{
		ID:        newJTI,
		UserID:    row.UserID,
		TokenHash: h.jwt.HashToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	err = h.refreshStore.Create(cctx, tx, newRow)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	err = tx.Commit(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(row.UserID, claims.Email, claims.Role)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.setRefreshCookie(ctx, newRaw, newExpiresAt)
	h.observeAuth("refresh", "ok")

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": newRaw,
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw := h.refreshTokenFromRequest(ctx)

	if raw == "" {
		// still clear cookie to be safe
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}
	defer func() { _ = tx.Rollback(cctx) }()

	// revoke that one token (idempotent)
	_ = h.refreshStore.Revoke(cctx, tx, claims.JTI, nil)
	_ = tx.Commit(cctx)

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

// ForgotPassword always acknowledges with the same body so callers cannot
// probe which emails are registered.
func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	u, err := h.users.GetByEmail(cctx, strings.ToLower(strings.TrimSpace(req.Email)))

	if err == nil {
		if err := h.createResetToken(cctx, u); err != nil {
			// logged upstream via metrics; the response stays generic
			h.observeAuth("forgot_password", "error")
		} else {
			h.observeAuth("forgot_password", "ok")
		}
	} else {
		h.observeAuth("forgot_password", "unknown_email")
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "If that email is registered, a reset link has been sent.",
	})
}

func (h *AuthHandler) createResetToken(ctx context.Context, u user.User) error {
	tx, err := h.resetStore.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// only the newest link stays valid
	if err := h.resetStore.InvalidateAllForUser(ctx, tx, u.ID); err != nil {
		return err
	}

	rawToken := uuid.NewString()
	now := time.Now().UTC()
	expiresAt := now.Add(h.cfg.ResetTokenTTL)

	row := postgres.ResetTokenRow{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		TokenHash: h.jwt.HashToken(rawToken),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	if err := h.resetStore.Create(ctx, tx, row); err != nil {
		return err
	}

	payload, err := (jobs.PasswordResetPayload{
		UserID:      u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		RawToken:    rawToken,
		ExpiresAt:   expiresAt,
		RequestedAt: now,
	}).JSON()
	if err != nil {
		return err
	}

	key := "password:reset:" + row.ID
	uid := u.ID

	if _, err := h.jobs.CreateTx(ctx, tx, job.CreateRequest{
		Type:           string(jobs.JobSendPasswordReset),
		Payload:        payload,
		MaxAttempts:    10,
		IdempotencyKey: &key,
		UserID:         &uid,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ResetPassword redeems a single-use token. Consume, password write and
// session revocation share one transaction, so a replayed token fails in SQL
// and a half-applied reset can't happen.
func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.resetStore.BeginTx(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}
	defer func() { _ = tx.Rollback(cctx) }()

	row, err := h.resetStore.Consume(cctx, tx, h.jwt.HashToken(req.Token))

	if err != nil {
		if errors.Is(err, postgres.ErrResetTokenInvalid) {
			h.observeAuth("reset_password", "invalid_token")
			RespondUnAuthorized(ctx, "invalid_reset_token", "Reset token is invalid or expired.")
			return
		}

		RespondInternal(ctx, "Could not reset password")
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	if err := h.users.UpdatePasswordTx(cctx, tx, row.UserID, hash); err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	// a reset invalidates every outstanding session
	if err := h.refreshStore.RevokeAllForUser(cctx, tx, row.UserID); err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	h.observeAuth("reset_password", "ok")
	ctx.JSON(http.StatusOK, gin.H{"message": "Password has been reset."})
}

// Helper functions

func (h *AuthHandler) issueTokens(ctx context.Context, u user.User) (accessToken, rawRefresh string, expiresAt time.Time, err error) {
	accessToken, err = h.jwt.GenerateAccessToken(u.ID, u.Email, u.Role.String())

	if err != nil {
		return "", "", time.Time{}, err
	}

	rawRefresh, jti, expiresAt, err := h.jwt.GenerateRefreshToken(u.ID, u.Email, u.Role.String())

	if err != nil {
		return "", "", time.Time{}, err
	}

	err = h.storeRefreshToken(ctx, u.ID, jti, rawRefresh, expiresAt)

	if err != nil {
		return "", "", time.Time{}, err
	}

	return accessToken, rawRefresh, expiresAt, nil
}

func (h *AuthHandler) storeRefreshToken(ctx context.Context, userID, jti, raw string, expiresAt time.Time) error {
	tx, err := h.refreshStore.BeginTx(ctx)

	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    userID,
		TokenHash: h.jwt.HashToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	err = h.refreshStore.Create(ctx, tx, row)

	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (h *AuthHandler) refreshTokenFromRequest(ctx *gin.Context) string {
	var req RefreshRequest

	// body is optional here; the cookie set at sign-in is the fallback
	if err := ctx.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}

	raw, err := ctx.Cookie(h.refreshCookieName())
	if err != nil {
		return ""
	}

	return raw
}

func (h *AuthHandler) refreshCookieName() string {
	return "refresh_token"
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	secure := h.cfg.Env == "prod"

	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		h.refreshCookieName(),
		raw,
		maxAge,
		"/auth",
		"",
		secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.refreshCookieName(),
		"",
		-1,
		"/auth",
		"",
		secure,
		true,
	)
}

func (h *AuthHandler) observeAuth(op, result string) {
	if h.prom != nil {
		h.prom.ObserveAuth(op, result)
	}
}
