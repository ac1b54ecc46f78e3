package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func authServerStub(t *testing.T) *httptest.Server {
	t.Helper()

	token := makeToken(t, map[string]any{
		"sub":  "u1",
		"role": "parent",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/auth/sign-in", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body["password"] != "s3cret-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "invalid_credentials",
					"message": "Email or password is incorrect.",
				},
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  token,
			"refreshToken": "refresh-1",
			"user":         map[string]string{"id": "u1", "email": body["email"], "role": "parent"},
		})
	})

	mux.HandleFunc("/auth/refresh-tokens", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body["refreshToken"] != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "invalid_refresh", "message": "Invalid refresh token"},
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  token,
			"refreshToken": "refresh-2",
		})
	})

	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return httptest.NewServer(mux)
}

func TestClientSignInStoresSession(t *testing.T) {
	srv := authServerStub(t)
	defer srv.Close()

	c := New(srv.URL)

	u, err := c.SignIn(context.Background(), "ada@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("user id = %q", u.ID)
	}

	claims, err := c.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if claims.Role != "parent" {
		t.Fatalf("role = %q", claims.Role)
	}

	if got := c.Dashboard(); got != "/parents/dashboard" {
		t.Fatalf("Dashboard() = %q", got)
	}
}

func TestClientSignInFailure(t *testing.T) {
	srv := authServerStub(t)
	defer srv.Close()

	c := New(srv.URL)

	_, err := c.SignIn(context.Background(), "ada@example.com", "wrong")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "invalid_credentials" {
		t.Fatalf("apiErr = %+v", apiErr)
	}

	if _, err := c.Session(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatal("failed sign-in must not leave a session")
	}
}

func TestClientRefreshRotatesStoredPair(t *testing.T) {
	srv := authServerStub(t)
	defer srv.Close()

	c := New(srv.URL)

	if _, err := c.SignIn(context.Background(), "ada@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// the stub only accepts refresh-1, so the rotated pair must fail and
	// drop the session
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("second refresh with a rotated-out token should fail")
	}

	if _, err := c.Session(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatal("rejected refresh must clear the session")
	}
}

func TestClientLogoutClearsSession(t *testing.T) {
	srv := authServerStub(t)
	defer srv.Close()

	c := New(srv.URL)

	if _, err := c.SignIn(context.Background(), "ada@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := c.Session(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatal("logout must clear the session")
	}
}

func TestClientRefreshWithoutSession(t *testing.T) {
	c := New("http://localhost:0")

	if err := c.Refresh(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}
