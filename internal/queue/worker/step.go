package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlink/tutorlink/internal/actorctx"
	"github.com/tutorlink/tutorlink/internal/domain/job"
	"github.com/tutorlink/tutorlink/internal/jobs"
	"github.com/tutorlink/tutorlink/internal/notifications"
)

// ProcessOne claims and executes a single job. Returns false when nothing is
// ready to run.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := time.Now()
	err = w.execute(ctx, j)

	if err != nil {
		w.observeJob(j.Type, "retry", time.Since(start))
		w.handleFailure(ctx, j, err)
		return true, nil
	}

	err = w.repo.MarkDone(ctx, j.ID)

	if err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	w.observeJob(j.Type, "ok", time.Since(start))
	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	// jobs run on behalf of the user whose request enqueued them
	if j.UserID != nil {
		ctx = actorctx.WithUserID(ctx, *j.UserID)
	}

	switch jobs.JobType(j.Type) {
	case jobs.JobSendPasswordReset:
		p, err := jobs.DecodePasswordReset(j.Payload)
		if err != nil {
			return err
		}

		return w.notifier.SendPasswordReset(ctx, notifications.PasswordResetInput{
			Email:     p.Email,
			FirstName: p.FirstName,
			RawToken:  p.RawToken,
			ExpiresAt: p.ExpiresAt,
		})

	case jobs.JobSendWelcome:
		p, err := jobs.DecodeWelcome(j.Payload)
		if err != nil {
			return err
		}

		return w.notifier.SendWelcome(ctx, notifications.WelcomeInput{
			Email:     p.Email,
			FirstName: p.FirstName,
			Role:      p.Role,
		})

	default:
		return fmt.Errorf("%w: %s", jobs.ErrInvalidJobType, j.Type)
	}
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) {
	// payload problems never fix themselves, don't burn retries on them
	if errors.Is(execErr, jobs.ErrInvalidJobPayload) || errors.Is(execErr, jobs.ErrInvalidJobType) {
		w.observeJob(j.Type, "failed", 0)
		_ = w.repo.MarkFailed(ctx, j.ID, execErr.Error())
		return
	}

	if j.Attempts+1 >= j.MaxAttempts {
		w.observeJob(j.Type, "failed", 0)
		_ = w.repo.MarkFailed(ctx, j.ID, "max attempts exceeded: "+execErr.Error())
		return
	}

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))
	_ = w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error())
}

func (w *Worker) observeJob(jobType, result string, dur time.Duration) {
	if w.prom != nil {
		w.prom.ObserveJob(jobType, result, dur)
	}
}
