package notifications

import (
	"context"
	"time"
)

type PasswordResetInput struct {
	Email     string
	FirstName string
	RawToken  string
	ExpiresAt time.Time
}

type WelcomeInput struct {
	Email     string
	FirstName string
	Role      string
}

type Notifier interface {
	SendPasswordReset(ctx context.Context, input PasswordResetInput) error
	SendWelcome(ctx context.Context, input WelcomeInput) error
}
