package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodePasswordReset rejects payloads missing the fields the worker cannot
// proceed without.
func DecodePasswordReset(raw json.RawMessage) (PasswordResetPayload, error) {
	var p PasswordResetPayload

	if err := json.Unmarshal(raw, &p); err != nil {
		return PasswordResetPayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.RawToken) == "" {
		return PasswordResetPayload{}, ErrInvalidJobPayload
	}

	return p, nil
}

func DecodeWelcome(raw json.RawMessage) (WelcomePayload, error) {
	var p WelcomePayload

	if err := json.Unmarshal(raw, &p); err != nil {
		return WelcomePayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if strings.TrimSpace(p.Email) == "" {
		return WelcomePayload{}, ErrInvalidJobPayload
	}

	return p, nil
}
