package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// SessionClaims is the subset of the access-token payload a caller needs for
// routing and display. Decoded without signature verification: the server
// guards every route, this is convenience state only.
type SessionClaims struct {
	UserID string `json:"sub"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Exp    int64  `json:"exp"`
}

func (c SessionClaims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

// DecodeSession extracts the claims from a JWT's payload segment. A token
// that cannot be decoded, or whose exp has passed, yields
// ErrNotAuthenticated; callers treat that as "signed out", never as a reason
// to guess.
func DecodeSession(token string) (SessionClaims, error) {
	parts := strings.Split(token, ".")

	if len(parts) != 3 {
		return SessionClaims{}, ErrNotAuthenticated
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])

	if err != nil {
		return SessionClaims{}, ErrNotAuthenticated
	}

	var claims SessionClaims

	if err := json.Unmarshal(payload, &claims); err != nil {
		return SessionClaims{}, ErrNotAuthenticated
	}

	if claims.Exp != 0 && time.Now().After(claims.ExpiresAt()) {
		return SessionClaims{}, ErrNotAuthenticated
	}

	if claims.UserID == "" {
		return SessionClaims{}, ErrNotAuthenticated
	}

	return claims, nil
}
