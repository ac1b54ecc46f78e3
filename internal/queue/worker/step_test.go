package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tutorlink/tutorlink/internal/domain/job"
	"github.com/tutorlink/tutorlink/internal/jobs"
	"github.com/tutorlink/tutorlink/internal/notifications"
)

type fakeJobsRepo struct {
	claimFn func(ctx context.Context, workerID string) (job.Job, error)

	done        []string
	failed      map[string]string
	rescheduled map[string]time.Time
}

func newFakeJobsRepo() *fakeJobsRepo {
	return &fakeJobsRepo{
		failed:      make(map[string]string),
		rescheduled: make(map[string]time.Time),
	}
}

func (f *fakeJobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	if f.claimFn == nil {
		return job.Job{}, job.ErrJobNotFound
	}
	return f.claimFn(ctx, workerID)
}

func (f *fakeJobsRepo) MarkDone(ctx context.Context, id string) error {
	f.done = append(f.done, id)
	return nil
}

func (f *fakeJobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	f.rescheduled[id] = runAt
	return nil
}

type recordingNotifier struct {
	err    error
	resets []notifications.PasswordResetInput
}

func (n *recordingNotifier) SendPasswordReset(ctx context.Context, in notifications.PasswordResetInput) error {
	n.resets = append(n.resets, in)
	return n.err
}

func (n *recordingNotifier) SendWelcome(ctx context.Context, in notifications.WelcomeInput) error {
	return n.err
}

func newTestWorker(repo JobsRepository, notifier notifications.Notifier) *Worker {
	return New(Config{WorkerID: "test-worker"}, repo, notifier, slog.Default(), nil)
}

func resetJob(t *testing.T, attempts, maxAttempts int) job.Job {
	t.Helper()

	payload, err := (jobs.PasswordResetPayload{
		UserID:    "u1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		RawToken:  "raw-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}).JSON()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}

	return job.Job{
		ID:          "j1",
		Type:        string(jobs.JobSendPasswordReset),
		Payload:     payload,
		Status:      job.StatusProcessing,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

func claimOnce(j job.Job) func(ctx context.Context, workerID string) (job.Job, error) {
	claimed := false
	return func(ctx context.Context, workerID string) (job.Job, error) {
		if claimed {
			return job.Job{}, job.ErrJobNotFound
		}
		claimed = true
		return j, nil
	}
}

func TestProcessOneDeliversAndMarksDone(t *testing.T) {
	repo := newFakeJobsRepo()
	repo.claimFn = claimOnce(resetJob(t, 0, 10))
	notifier := &recordingNotifier{}

	w := newTestWorker(repo, notifier)

	processed, err := w.ProcessOne(context.Background())
	if err != nil || !processed {
		t.Fatalf("processed = %v, err = %v", processed, err)
	}

	if len(notifier.resets) != 1 || notifier.resets[0].Email != "ada@example.com" {
		t.Fatalf("resets = %+v", notifier.resets)
	}
	if len(repo.done) != 1 || repo.done[0] != "j1" {
		t.Fatalf("done = %v", repo.done)
	}
}

func TestProcessOneIdleQueue(t *testing.T) {
	repo := newFakeJobsRepo()
	w := newTestWorker(repo, &recordingNotifier{})

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if processed {
		t.Fatal("nothing to claim, processed should be false")
	}
}

func TestProcessOneReschedulesRetryableFailure(t *testing.T) {
	repo := newFakeJobsRepo()
	repo.claimFn = claimOnce(resetJob(t, 0, 10))
	notifier := &recordingNotifier{err: errors.New("provider down")}

	w := newTestWorker(repo, notifier)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("err = %v", err)
	}

	if len(repo.done) != 0 {
		t.Fatal("failed job must not be marked done")
	}
	runAt, ok := repo.rescheduled["j1"]
	if !ok {
		t.Fatal("expected a reschedule")
	}
	if !runAt.After(time.Now()) {
		t.Fatalf("runAt = %v, want in the future", runAt)
	}
}

func TestProcessOneFailsAtMaxAttempts(t *testing.T) {
	repo := newFakeJobsRepo()
	repo.claimFn = claimOnce(resetJob(t, 9, 10))
	notifier := &recordingNotifier{err: errors.New("provider down")}

	w := newTestWorker(repo, notifier)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("err = %v", err)
	}

	if _, ok := repo.rescheduled["j1"]; ok {
		t.Fatal("exhausted job must not be rescheduled")
	}
	if _, ok := repo.failed["j1"]; !ok {
		t.Fatal("exhausted job must be marked failed")
	}
}

func TestProcessOneFailsFastOnBadPayload(t *testing.T) {
	repo := newFakeJobsRepo()
	repo.claimFn = claimOnce(job.Job{
		ID:          "j2",
		Type:        string(jobs.JobSendWelcome),
		Payload:     json.RawMessage(`{not json`),
		Attempts:    0,
		MaxAttempts: 10,
	})

	w := newTestWorker(repo, &recordingNotifier{})

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("err = %v", err)
	}

	if _, ok := repo.rescheduled["j2"]; ok {
		t.Fatal("undecodable payload must not burn retries")
	}
	if _, ok := repo.failed["j2"]; !ok {
		t.Fatal("undecodable payload must be marked failed")
	}
}

func TestProcessOneFailsFastOnUnknownType(t *testing.T) {
	repo := newFakeJobsRepo()
	repo.claimFn = claimOnce(job.Job{
		ID:          "j3",
		Type:        "billing.invoice", // not a notification job type
		Payload:     json.RawMessage(`{}`),
		MaxAttempts: 10,
	})

	w := newTestWorker(repo, &recordingNotifier{})

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("err = %v", err)
	}

	if _, ok := repo.failed["j3"]; !ok {
		t.Fatal("unknown job type must be marked failed")
	}
}
