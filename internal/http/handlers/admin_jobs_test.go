package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tutorlink/tutorlink/internal/domain/job"
	"github.com/tutorlink/tutorlink/internal/repo/postgres"
)

type fakeAdminJobsRepo struct {
	listCursorFn      func(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]job.Job, *string, bool, error)
	getByIDFn         func(ctx context.Context, id string) (job.Job, error)
	retryFn           func(ctx context.Context, id string) error
	retryManyFailedFn func(ctx context.Context, limit int) (int64, error)
}

func (f *fakeAdminJobsRepo) ListCursor(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]job.Job, *string, bool, error) {
	if f.listCursorFn == nil {
		return nil, nil, false, nil
	}
	return f.listCursorFn(ctx, status, limit, afterUpdatedAt, afterID)
}

func (f *fakeAdminJobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	if f.getByIDFn == nil {
		return job.Job{}, job.ErrJobNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeAdminJobsRepo) Retry(ctx context.Context, id string) error {
	if f.retryFn == nil {
		return job.ErrJobNotFound
	}
	return f.retryFn(ctx, id)
}

func (f *fakeAdminJobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	if f.retryManyFailedFn == nil {
		return 0, nil
	}
	return f.retryManyFailedFn(ctx, limit)
}

func newAdminJobsRouter(repo *fakeAdminJobsRepo) *gin.Engine {
	h := NewAdminJobsHandler(repo)

	r := gin.New()
	r.GET("/admin/jobs", h.List)
	r.GET("/admin/jobs/:id", h.GetByID)
	r.POST("/admin/jobs/:id/retry", h.Retry)
	r.POST("/admin/jobs/reprocess-dead", h.ReprocessDead)
	return r
}

func doReq(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAdminJobsListRejectsBadLimitAndCursor(t *testing.T) {
	r := newAdminJobsRouter(&fakeAdminJobsRepo{})

	if rec := doReq(r, http.MethodGet, "/admin/jobs?limit=0", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", rec.Code)
	}
	if rec := doReq(r, http.MethodGet, "/admin/jobs?limit=1000", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=1000 status = %d", rec.Code)
	}
	if rec := doReq(r, http.MethodGet, "/admin/jobs?cursor=!!!", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor status = %d", rec.Code)
	}
}

func TestAdminJobsListPassesStatusFilter(t *testing.T) {
	var gotStatus *string

	repo := &fakeAdminJobsRepo{
		listCursorFn: func(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]job.Job, *string, bool, error) {
			gotStatus = status
			return []job.Job{{ID: uuid.NewString(), Type: "auth.welcome_email", Status: job.StatusFailed}}, nil, false, nil
		},
	}
	r := newAdminJobsRouter(repo)

	rec := doReq(r, http.MethodGet, "/admin/jobs?status=failed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotStatus == nil || *gotStatus != "failed" {
		t.Fatalf("status filter = %v", gotStatus)
	}
	if rec.Header().Get("ETag") == "" {
		t.Fatal("expected an ETag header")
	}
}

func TestAdminJobsListHonorsIfNoneMatch(t *testing.T) {
	repo := &fakeAdminJobsRepo{
		listCursorFn: func(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]job.Job, *string, bool, error) {
			return []job.Job{}, nil, false, nil
		},
	}
	r := newAdminJobsRouter(repo)

	first := doReq(r, http.MethodGet, "/admin/jobs", nil)
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag header")
	}

	second := doReq(r, http.MethodGet, "/admin/jobs", map[string]string{"If-None-Match": etag})
	if second.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", second.Code)
	}
}

func TestAdminJobsGetByID(t *testing.T) {
	id := uuid.NewString()

	repo := &fakeAdminJobsRepo{
		getByIDFn: func(ctx context.Context, gotID string) (job.Job, error) {
			if gotID != id {
				return job.Job{}, job.ErrJobNotFound
			}
			return job.Job{ID: id, Type: "auth.password_reset_email"}, nil
		},
	}
	r := newAdminJobsRouter(repo)

	if rec := doReq(r, http.MethodGet, "/admin/jobs/"+id, nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := doReq(r, http.MethodGet, "/admin/jobs/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", rec.Code)
	}
	if rec := doReq(r, http.MethodGet, "/admin/jobs/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestAdminJobsRetry(t *testing.T) {
	failedID := uuid.NewString()
	pendingID := uuid.NewString()

	repo := &fakeAdminJobsRepo{
		retryFn: func(ctx context.Context, id string) error {
			switch id {
			case failedID:
				return nil
			case pendingID:
				return postgres.ErrJobNotFailed
			default:
				return job.ErrJobNotFound
			}
		},
	}
	r := newAdminJobsRouter(repo)

	if rec := doReq(r, http.MethodPost, "/admin/jobs/"+failedID+"/retry", nil); rec.Code != http.StatusOK {
		t.Fatalf("failed job retry status = %d", rec.Code)
	}
	if rec := doReq(r, http.MethodPost, "/admin/jobs/"+pendingID+"/retry", nil); rec.Code != http.StatusConflict {
		t.Fatalf("pending job retry status = %d", rec.Code)
	}
	if rec := doReq(r, http.MethodPost, "/admin/jobs/"+uuid.NewString()+"/retry", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job retry status = %d", rec.Code)
	}
}

func TestAdminJobsReprocessDead(t *testing.T) {
	repo := &fakeAdminJobsRepo{
		retryManyFailedFn: func(ctx context.Context, limit int) (int64, error) {
			return int64(limit), nil
		},
	}
	r := newAdminJobsRouter(repo)

	rec := doReq(r, http.MethodPost, "/admin/jobs/reprocess-dead?limit=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["requeued"].(float64) != 7 {
		t.Fatalf("requeued = %v", body["requeued"])
	}
}
