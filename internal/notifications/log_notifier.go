package notifications

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/tutorlink/tutorlink/internal/actorctx"
)

// LogNotifier stands in for a real mail provider. The reset token is logged
// truncated; the full link only ever reaches the recipient.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) SendPasswordReset(ctx context.Context, in PasswordResetInput) error {
	if err := simulateProvider(ctx); err != nil {
		return err
	}

	token := in.RawToken
	if len(token) > 8 {
		token = token[:8] + "..."
	}

	log.Printf("notification.password_reset actor=%s email=%s token=%s expires=%s",
		actorFrom(ctx), in.Email, token, in.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}

func actorFrom(ctx context.Context) string {
	if id, ok := actorctx.UserIDFrom(ctx); ok {
		return id
	}
	return "system"
}

func (n *LogNotifier) SendWelcome(ctx context.Context, in WelcomeInput) error {
	if err := simulateProvider(ctx); err != nil {
		return err
	}

	log.Printf("notification.welcome actor=%s email=%s name=%s role=%s",
		actorFrom(ctx), in.Email, in.FirstName, in.Role)
	return nil
}

func simulateProvider(ctx context.Context) error {
	// Optional: simulate slow provider
	if msStr := os.Getenv("NOTIFIER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Optional: simulate provider outage
	if os.Getenv("NOTIFIER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	return nil
}
