package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tutorlink/tutorlink/internal/auth"
	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/domain/job"
	"github.com/tutorlink/tutorlink/internal/domain/user"
	"github.com/tutorlink/tutorlink/internal/repo/memory"
	"github.com/tutorlink/tutorlink/internal/repo/postgres"
	"github.com/tutorlink/tutorlink/internal/security"
	"github.com/tutorlink/tutorlink/internal/uploads"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeUserStore keeps accounts in maps so multi-step flows (sign-up then
// sign-in, reset then sign-in) behave like the real repo.
type fakeUserStore struct {
	mu      sync.Mutex
	byEmail map[string]user.User
	byID    map[string]user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byEmail: make(map[string]user.User),
		byID:    make(map[string]user.User),
	}
}

func (f *fakeUserStore) Create(ctx context.Context, req postgres.CreateUserRequest) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byEmail[req.Email]; exists {
		return user.User{}, postgres.ErrEmailAlreadyUsed
	}

	u := user.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.byEmail[u.Email] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byEmail[email]
	if !ok {
		return user.User{}, postgres.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[id]
	if !ok {
		return user.User{}, postgres.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserStore) UpdatePasswordTx(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[userID]
	if !ok {
		return postgres.ErrUserNotFound
	}

	u.PasswordHash = passwordHash
	f.byID[userID] = u
	f.byEmail[u.Email] = u
	return nil
}

type fakeJobs struct {
	mu      sync.Mutex
	created []job.CreateRequest
}

func (f *fakeJobs) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	return f.CreateTx(ctx, nil, req)
}

func (f *fakeJobs) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, req)
	return job.Job{ID: uuid.NewString(), Type: req.Type, Payload: req.Payload}, nil
}

func (f *fakeJobs) ofType(jobType string) []job.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []job.CreateRequest
	for _, req := range f.created {
		if req.Type == jobType {
			out = append(out, req)
		}
	}
	return out
}

type authFixture struct {
	handler      *AuthHandler
	router       *gin.Engine
	users        *fakeUserStore
	refreshStore *memory.RefreshTokensRepo
	resetStore   *memory.ResetTokensRepo
	jobs         *fakeJobs
	jwt          *auth.Manager
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	users := newFakeUserStore()
	refreshStore := memory.NewRefreshTokensRepo()
	resetStore := memory.NewResetTokensRepo()
	jobsRepo := &fakeJobs{}
	jwtManager := auth.NewManager("test-secret", 15*time.Minute, 24*time.Hour)

	cfg := config.Config{
		Env:           "test",
		ResetTokenTTL: time.Hour,
	}

	uploader, err := uploads.NewLocalUploader(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}

	h := NewAuthHandler(users, jwtManager, refreshStore, resetStore, jobsRepo, uploader, nil, cfg)

	r := gin.New()
	r.POST("/auth/sign-up", h.SignUp)
	r.POST("/auth/sign-up-with-photo", h.SignUpWithPhoto)
	r.POST("/auth/sign-in", h.SignIn)
	r.POST("/auth/refresh-tokens", h.Refresh)
	r.POST("/auth/logout", h.Logout)
	r.POST("/auth/password/forgot", h.ForgotPassword)
	r.POST("/auth/password/reset", h.ResetPassword)

	return &authFixture{
		handler:      h,
		router:       r,
		users:        users,
		refreshStore: refreshStore,
		resetStore:   resetStore,
		jobs:         jobsRepo,
		jwt:          jwtManager,
	}
}

func (f *authFixture) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *authFixture) signUpParent(t *testing.T, email string) map[string]any {
	t.Helper()

	rec := f.postJSON(t, "/auth/sign-up", gin.H{
		"email":     email,
		"password":  "s3cret-pass",
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"role":      "parent",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("sign-up status = %d, body = %s", rec.Code, rec.Body.String())
	}

	return decodeBody(t, rec)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("body has no error object: %s", rec.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestSignUpCreatesUserAndTokens(t *testing.T) {
	f := newAuthFixture(t)

	body := f.signUpParent(t, "ada@example.com")

	if body["accessToken"] == "" || body["accessToken"] == nil {
		t.Fatal("expected accessToken in response")
	}
	if body["refreshToken"] == "" || body["refreshToken"] == nil {
		t.Fatal("expected refreshToken in response")
	}

	u, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user object, got %T", body["user"])
	}
	if u["email"] != "ada@example.com" {
		t.Fatalf("user email = %v", u["email"])
	}
	if u["role"] != "parent" {
		t.Fatalf("user role = %v", u["role"])
	}
}

func TestSignUpNeverLeaksPasswordMaterial(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.postJSON(t, "/auth/sign-up", gin.H{
		"email":     "leak@example.com",
		"password":  "s3cret-pass",
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"role":      "tutor",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	raw := rec.Body.String()
	if strings.Contains(raw, "s3cret-pass") {
		t.Fatal("response contains the raw password")
	}
	if strings.Contains(raw, "passwordHash") || strings.Contains(raw, "password_hash") {
		t.Fatal("response contains a password hash field")
	}
}

func TestSignUpRoleCasingNormalized(t *testing.T) {
	f := newAuthFixture(t)

	for i, role := range []string{"Tutor", "TUTOR", " tutor "} {
		rec := f.postJSON(t, "/auth/sign-up", gin.H{
			"email":     fmt.Sprintf("case%d@example.com", i),
			"password":  "s3cret-pass",
			"firstName": "A",
			"lastName":  "B",
			"role":      role,
		})

		if rec.Code != http.StatusCreated {
			t.Fatalf("role %q: status = %d, body = %s", role, rec.Code, rec.Body.String())
		}

		u := decodeBody(t, rec)["user"].(map[string]any)
		if u["role"] != "tutor" {
			t.Fatalf("role %q stored as %v", role, u["role"])
		}
	}
}

func TestSignUpUnknownRoleRejected(t *testing.T) {
	f := newAuthFixture(t)

	for _, role := range []string{"superadmin", "tutors", "", "admin2"} {
		rec := f.postJSON(t, "/auth/sign-up", gin.H{
			"email":     "bad@example.com",
			"password":  "s3cret-pass",
			"firstName": "A",
			"lastName":  "B",
			"role":      role,
		})

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("role %q: status = %d, want 400", role, rec.Code)
		}
	}
}

func TestSignUpRejectsMismatchedExtensions(t *testing.T) {
	f := newAuthFixture(t)

	// a parent smuggling tutor fields
	rec := f.postJSON(t, "/auth/sign-up", gin.H{
		"email":      "mismatch@example.com",
		"password":   "s3cret-pass",
		"firstName":  "A",
		"lastName":   "B",
		"role":       "parent",
		"hourlyRate": 40,
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	f := newAuthFixture(t)

	f.signUpParent(t, "dupe@example.com")

	rec := f.postJSON(t, "/auth/sign-up", gin.H{
		"email":     "dupe@example.com",
		"password":  "other-pass-1",
		"firstName": "A",
		"lastName":  "B",
		"role":      "tutor",
	})

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "email_taken" {
		t.Fatalf("error code = %q", code)
	}
}

func TestSignUpShortPasswordRejected(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.postJSON(t, "/auth/sign-up", gin.H{
		"email":     "short@example.com",
		"password":  "short",
		"firstName": "A",
		"lastName":  "B",
		"role":      "parent",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSignUpEnqueuesWelcomeEmail(t *testing.T) {
	f := newAuthFixture(t)

	f.signUpParent(t, "welcome@example.com")

	queued := f.jobs.ofType("auth.welcome_email")
	if len(queued) != 1 {
		t.Fatalf("welcome jobs = %d, want 1", len(queued))
	}
}

func TestSignInSucceedsWithCorrectPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.signUpParent(t, "ada@example.com")

	rec := f.postJSON(t, "/auth/sign-in", gin.H{
		"email":    "ada@example.com",
		"password": "s3cret-pass",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["accessToken"] == nil || body["refreshToken"] == nil {
		t.Fatal("expected both tokens in response")
	}

	// refresh cookie set for browser clients
	cookieSet := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" && c.HttpOnly {
			cookieSet = true
		}
	}
	if !cookieSet {
		t.Fatal("expected an HttpOnly refresh_token cookie")
	}
}

func TestSignInFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	f.signUpParent(t, "ada@example.com")

	wrongPassword := f.postJSON(t, "/auth/sign-in", gin.H{
		"email":    "ada@example.com",
		"password": "not-the-password",
	})
	unknownEmail := f.postJSON(t, "/auth/sign-in", gin.H{
		"email":    "ghost@example.com",
		"password": "s3cret-pass",
	})

	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d; want both 401", wrongPassword.Code, unknownEmail.Code)
	}

	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("bodies differ:\n%s\n%s", wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newAuthFixture(t)
	signedUp := f.signUpParent(t, "ada@example.com")

	firstRefresh := signedUp["refreshToken"].(string)

	rec := f.postJSON(t, "/auth/refresh-tokens", gin.H{"refreshToken": firstRefresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("first refresh status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rotated := decodeBody(t, rec)
	secondRefresh := rotated["refreshToken"].(string)

	if secondRefresh == firstRefresh {
		t.Fatal("refresh token was not rotated")
	}
	if rotated["accessToken"] == nil {
		t.Fatal("expected a new access token")
	}

	// the rotated-out token must be dead
	replay := f.postJSON(t, "/auth/refresh-tokens", gin.H{"refreshToken": firstRefresh})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", replay.Code)
	}

	// the new one keeps working
	again := f.postJSON(t, "/auth/refresh-tokens", gin.H{"refreshToken": secondRefresh})
	if again.Code != http.StatusOK {
		t.Fatalf("second refresh status = %d", again.Code)
	}
}

func TestRefreshRejectsGarbageToken(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.postJSON(t, "/auth/refresh-tokens", gin.H{"refreshToken": "not-a-jwt"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	signedUp := f.signUpParent(t, "ada@example.com")

	accessToken := signedUp["accessToken"].(string)

	rec := f.postJSON(t, "/auth/refresh-tokens", gin.H{"refreshToken": accessToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	signedUp := f.signUpParent(t, "ada@example.com")

	refreshToken := signedUp["refreshToken"].(string)

	rec := f.postJSON(t, "/auth/logout", gin.H{"refreshToken": refreshToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", rec.Code)
	}

	replay := f.postJSON(t, "/auth/refresh-tokens", gin.H{"refreshToken": refreshToken})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d, want 401", replay.Code)
	}
}

func TestForgotPasswordAlwaysGeneric(t *testing.T) {
	f := newAuthFixture(t)
	f.signUpParent(t, "ada@example.com")

	known := f.postJSON(t, "/auth/password/forgot", gin.H{"email": "ada@example.com"})
	unknown := f.postJSON(t, "/auth/password/forgot", gin.H{"email": "ghost@example.com"})

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("statuses = %d, %d; want both 200", known.Code, unknown.Code)
	}

	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("bodies differ:\n%s\n%s", known.Body.String(), unknown.Body.String())
	}

	// only the known account gets a reset email queued
	queued := f.jobs.ofType("auth.password_reset_email")
	if len(queued) != 1 {
		t.Fatalf("reset jobs = %d, want 1", len(queued))
	}
}

func TestResetPasswordFullFlow(t *testing.T) {
	f := newAuthFixture(t)
	signedUp := f.signUpParent(t, "ada@example.com")
	oldRefresh := signedUp["refreshToken"].(string)

	forgot := f.postJSON(t, "/auth/password/forgot", gin.H{"email": "ada@example.com"})
	if forgot.Code != http.StatusOK {
		t.Fatalf("forgot status = %d", forgot.Code)
	}

	queued := f.jobs.ofType("auth.password_reset_email")
	if len(queued) != 1 {
		t.Fatalf("reset jobs = %d, want 1", len(queued))
	}

	var payload struct {
		RawToken string `json:"rawToken"`
	}
	if err := json.Unmarshal(queued[0].Payload, &payload); err != nil {
		t.Fatalf("decode reset payload: %v", err)
	}
	if payload.RawToken == "" {
		t.Fatal("reset payload has no token")
	}

	rec := f.postJSON(t, "/auth/password/reset", gin.H{
		"token":    payload.RawToken,
		"password": "brand-new-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// old password dead, new one works
	oldSignIn := f.postJSON(t, "/auth/sign-in", gin.H{
		"email":    "ada@example.com",
		"password": "s3cret-pass",
	})
	if oldSignIn.Code != http.StatusUnauthorized {
		t.Fatalf("old password sign-in = %d, want 401", oldSignIn.Code)
	}

	newSignIn := f.postJSON(t, "/auth/sign-in", gin.H{
		"email":    "ada@example.com",
		"password": "brand-new-pass",
	})
	if newSignIn.Code != http.StatusOK {
		t.Fatalf("new password sign-in = %d, body = %s", newSignIn.Code, newSignIn.Body.String())
	}

	// outstanding sessions revoked by the reset
	replay := f.postJSON(t, "/auth/refresh-tokens", gin.H{"refreshToken": oldRefresh})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after reset = %d, want 401", replay.Code)
	}

	// single use: the same token cannot be redeemed twice
	second := f.postJSON(t, "/auth/password/reset", gin.H{
		"token":    payload.RawToken,
		"password": "yet-another-pass",
	})
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("token replay = %d, want 401", second.Code)
	}
	if code := errorCode(t, second); code != "invalid_reset_token" {
		t.Fatalf("error code = %q", code)
	}
}

func TestResetPasswordUnknownTokenRejected(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.postJSON(t, "/auth/password/reset", gin.H{
		"token":    uuid.NewString(),
		"password": "brand-new-pass",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func (f *authFixture) postMultipart(t *testing.T, path string, fields map[string]string, photoName string, photo []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}

	if photoName != "" {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, photoName))
		header.Set("Content-Type", "image/jpeg")

		part, err := w.CreatePart(header)
		if err != nil {
			t.Fatalf("create photo part: %v", err)
		}
		if _, err := part.Write(photo); err != nil {
			t.Fatalf("write photo: %v", err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func tutorFormFields(email string) map[string]string {
	return map[string]string{
		"email":     email,
		"password":  "s3cret-pass",
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"role":      "tutor",
		"bio":       "Maths tutor",
	}
}

func TestSignUpWithPhotoStoresTutorPhoto(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.postMultipart(t, "/auth/sign-up-with-photo",
		tutorFormFields("photo@example.com"), "avatar.jpg", []byte("jpegbytes"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSignUpWithPhotoWorksWithoutFile(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.postMultipart(t, "/auth/sign-up-with-photo",
		tutorFormFields("nofile@example.com"), "", nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSignUpWithPhotoRejectsNonTutor(t *testing.T) {
	f := newAuthFixture(t)

	fields := map[string]string{
		"email":     "parentphoto@example.com",
		"password":  "s3cret-pass",
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"role":      "parent",
	}

	rec := f.postMultipart(t, "/auth/sign-up-with-photo", fields, "avatar.jpg", []byte("jpegbytes"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
	}
}

func TestPasswordsAreBcryptHashed(t *testing.T) {
	f := newAuthFixture(t)
	f.signUpParent(t, "ada@example.com")

	stored, err := f.users.GetByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	if stored.PasswordHash == "s3cret-pass" {
		t.Fatal("password stored in plaintext")
	}
	if err := security.CheckPassword(stored.PasswordHash, "s3cret-pass"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}
