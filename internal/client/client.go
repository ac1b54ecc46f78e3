package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tutorlink/tutorlink/internal/domain/user"
)

// Client is a thin API client for the auth endpoints. It keeps the current
// token pair and exposes the decoded session; callers poll Session instead of
// tracking auth state themselves.
type Client struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type SignUpInput struct {
	Email      string   `json:"email"`
	Password   string   `json:"password"`
	FirstName  string   `json:"firstName"`
	LastName   string   `json:"lastName"`
	Role       string   `json:"role"`
	Bio        string   `json:"bio,omitempty"`
	HourlyRate float64  `json:"hourlyRate,omitempty"`
	Subjects   []string `json:"subjects,omitempty"`

	PreferredSubjects []string `json:"preferredSubjects,omitempty"`
	GradeLevel        string   `json:"gradeLevel,omitempty"`
}

type authResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         user.User `json:"user"`
}

// APIError carries the server's error envelope when a call fails.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) SignUp(ctx context.Context, in SignUpInput) (user.User, error) {
	var resp authResponse

	if err := c.post(ctx, "/auth/sign-up", in, &resp); err != nil {
		return user.User{}, err
	}

	c.setTokens(resp.AccessToken, resp.RefreshToken)
	return resp.User, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (user.User, error) {
	var resp authResponse

	err := c.post(ctx, "/auth/sign-in", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)

	if err != nil {
		return user.User{}, err
	}

	c.setTokens(resp.AccessToken, resp.RefreshToken)
	return resp.User, nil
}

// Refresh swaps the stored refresh token for a new pair. The old pair is
// dropped even on failure: a rejected refresh means the session is gone.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	if refresh == "" {
		return ErrNotAuthenticated
	}

	var resp authResponse

	err := c.post(ctx, "/auth/refresh-tokens", map[string]string{
		"refreshToken": refresh,
	}, &resp)

	if err != nil {
		c.setTokens("", "")
		return err
	}

	c.setTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	c.setTokens("", "")

	if refresh == "" {
		return nil
	}

	return c.post(ctx, "/auth/logout", map[string]string{
		"refreshToken": refresh,
	}, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.post(ctx, "/auth/password/forgot", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	return c.post(ctx, "/auth/password/reset", map[string]string{
		"token":    token,
		"password": password,
	}, nil)
}

// Session decodes the stored access token. ErrNotAuthenticated covers both
// "never signed in" and "token expired".
func (c *Client) Session() (SessionClaims, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	if token == "" {
		return SessionClaims{}, ErrNotAuthenticated
	}

	return DecodeSession(token)
}

// Dashboard returns the landing route for the current session.
func (c *Client) Dashboard() string {
	claims, err := c.Session()
	if err != nil {
		return DefaultDashboard
	}
	return DashboardPath(claims.Role)
}

func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) setTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessToken = access
	c.refreshToken = refresh
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)

	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))

	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)

	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && json.Unmarshal(raw, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}

	return apiErr
}
