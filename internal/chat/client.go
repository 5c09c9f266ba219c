package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"belezabot/internal/domain"
)

// DefaultRelayURL matches the relay's default listen address.
const DefaultRelayURL = "http://localhost:3001"

// Client talks to the chat relay over HTTP. It implements Relay.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRelayURL
	}
	if cfg.Timeout <= 0 {
		// A bit above the relay's own upstream bound so its error body
		// arrives before we give up.
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// Send posts the full history to POST /api/chat and returns the assistant
// reply. Relay-reported errors come back as plain errors carrying the
// relay's text.
func (c *Client) Send(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	body, err := json.Marshal(domain.ChatRequest{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var chatResp domain.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("relay returned %s with unreadable body", resp.Status)
	}

	if !chatResp.Success {
		if chatResp.Error != "" {
			return "", fmt.Errorf("%s", chatResp.Error)
		}
		return "", fmt.Errorf("relay returned %s", resp.Status)
	}
	return chatResp.Message, nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*domain.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}

	var status domain.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &status, nil
}
