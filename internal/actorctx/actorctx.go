package actorctx

import (
	"context"

	"github.com/tutorlink/tutorlink/internal/http/middlewares"
)

// WithUserID tags a context with the user the work is being done for. The
// worker uses it when replaying a job so logs and notifications carry the
// same actor the HTTP request had.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, middlewares.KeyUserID, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(middlewares.KeyUserID).(string)

	return v, ok && v != ""
}
