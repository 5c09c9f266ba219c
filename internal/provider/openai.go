package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"belezabot/internal/domain"
)

// fallbackReply is returned when the upstream answers successfully but with
// no usable choice, so the transcript never shows an empty bubble.
const fallbackReply = "Unable to generate response"

// OpenAI implements domain.Completer against an OpenAI-compatible
// chat-completions API.
type OpenAI struct {
	apiKey      string
	apiBase     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type OpenAIConfig struct {
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:      cfg.APIKey,
		apiBase:     cfg.APIBase,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      newHTTPClient(cfg.Timeout),
		logger:      cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Healthy probes the models endpoint to verify reachability and credentials.
func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidAPIKey
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned %d", resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete forwards the combined message list and returns the generated
// text. Callers are responsible for prepending the system prompt.
func (o *OpenAI) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	msgs := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, oaiMessage{Role: string(m.Role), Content: m.Content})
	}

	temp := o.temperature
	body := oaiRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   o.maxTokens,
		Temperature: &temp,
		Stream:      false,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fallthrough to decode
	case http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return "", ErrInvalidAPIKey
	case http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return "", ErrRateLimited
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(respBody),
		}
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	if len(oaiResp.Choices) == 0 || oaiResp.Choices[0].Message.Content == "" {
		o.logger.Warn("upstream returned no choices", "model", o.model)
		return fallbackReply, nil
	}

	o.logger.Debug("completion generated",
		"model", o.model,
		"tokens", oaiResp.Usage.TotalTokens,
		"latency", time.Since(start),
	)
	return oaiResp.Choices[0].Message.Content, nil
}

// upstreamMessage extracts the error message from an OpenAI error body,
// falling back to the raw bytes when the body is not the expected JSON.
func upstreamMessage(body []byte) string {
	var eb oaiErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	return string(body)
}
