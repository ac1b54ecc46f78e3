package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString(payload)

	return header + "." + body + ".signature-not-checked-here"
}

func TestDecodeSession(t *testing.T) {
	token := makeToken(t, map[string]any{
		"sub":   "u1",
		"email": "ada@example.com",
		"role":  "tutor",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	claims, err := DecodeSession(token)
	if err != nil {
		t.Fatalf("DecodeSession: %v", err)
	}

	if claims.UserID != "u1" || claims.Email != "ada@example.com" || claims.Role != "tutor" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestDecodeSessionRejectsExpired(t *testing.T) {
	token := makeToken(t, map[string]any{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	_, err := DecodeSession(token)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestDecodeSessionRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		"not-a-jwt",
		"a.b",                    // two segments
		"a.!!!not-base64!!!.c",   // undecodable payload
		"a." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".c",
		makeToken(t, map[string]any{"email": "nobody@example.com"}), // no sub
	}

	for _, token := range bad {
		if _, err := DecodeSession(token); !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("token %q: err = %v, want ErrNotAuthenticated", token, err)
		}
	}
}

func TestDashboardPath(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{"admin", "/admin/dashboard"},
		{"tutor", "/tutors/dashboard"},
		{"parent", "/parents/dashboard"},
		{"child", "/children/dashboard"},
		{"nonsense", DefaultDashboard},
		{"", DefaultDashboard},
	}

	for _, tc := range tests {
		if got := DashboardPath(tc.role); got != tc.want {
			t.Fatalf("DashboardPath(%q) = %q, want %q", tc.role, got, tc.want)
		}
	}
}
