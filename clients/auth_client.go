// Package clients talks to the collaborating auth and notification services
// over HTTP.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrInvalidToken       = errors.New("access token rejected")
	ErrServiceUnavailable = errors.New("collaborator service unavailable")
)

const defaultTimeout = 3 * time.Second

type AuthClient struct {
	baseURL string
	client  *http.Client
}

func NewAuthClient(baseURL string, timeout time.Duration) *AuthClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	PlayerID int `json:"player_id"`
}

// VerifyToken resolves an access token into a player id through
// POST /auth/verify.
func (c *AuthClient) VerifyToken(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return 0, fmt.Errorf("failed to encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/verify", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: auth verify returned %d: %s", ErrServiceUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if out.PlayerID <= 0 {
		return 0, ErrInvalidToken
	}
	return out.PlayerID, nil
}
