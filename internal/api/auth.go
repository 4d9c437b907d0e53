package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ErrInvalidToken means Discord rejected the bearer token.
var ErrInvalidToken = errors.New("invalid discord token")

// Verifier resolves a bearer token to the Discord user id it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// discordVerifier validates tokens against Discord's current-user endpoint.
type discordVerifier struct {
	base    string
	timeout time.Duration
}

func NewDiscordVerifier() Verifier {
	return &discordVerifier{base: "https://discord.com", timeout: 10 * time.Second}
}

func (v *discordVerifier) Verify(ctx context.Context, token string) (string, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, source)
	client.Timeout = v.timeout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.base+"/api/users/@me", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discord token check failed: status %d", resp.StatusCode)
	}

	var user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", err
	}
	if user.ID == "" || user.Username == "" {
		return "", ErrInvalidToken
	}
	return user.ID, nil
}
