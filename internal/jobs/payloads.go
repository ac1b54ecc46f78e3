package jobs

import (
	"encoding/json"
	"time"
)

// PasswordResetPayload carries everything the worker needs to send a reset
// link. The raw token travels only through the job payload; the DB row keeps
// just its hash.
type PasswordResetPayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	RawToken    string    `json:"rawToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RequestedAt time.Time `json:"requestedAt"`
}

// WelcomePayload is enqueued after a successful sign-up.
type WelcomePayload struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	Role      string `json:"role"`
}

func (p PasswordResetPayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (p WelcomePayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
