// Package gemini streams chat completions from the Gemini API through the
// Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"neonhub/internal/domain"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StatusError exposes the HTTP status of a failed Gemini call.
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d (%s): %s", e.Code, e.Status, e.Message)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.Code
}

// streamFunc matches genai's Models.GenerateContentStream.
type streamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

type Client struct {
	getter      Getter
	paramPrefix string
	staticKey   string
	httpClient  *http.Client

	mu     sync.Mutex
	stream streamFunc
}

type Option func(*Client)

// WithAPIKey sets the key directly, bypassing Parameter Store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	c := &Client{
		getter:      ps,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" {
		if c.getter == nil {
			return nil, errors.New("gemini: paramstore getter must not be nil without an API key")
		}
		if c.paramPrefix == "" {
			return nil, errors.New("gemini: parameter prefix must not be empty without an API key")
		}
	}
	return c, nil
}

// resolveStream creates the SDK client on first successful use. Failures are
// not cached, and the key fetch is detached from the caller's cancellation.
func (c *Client) resolveStream(ctx context.Context) (streamFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return c.stream, nil
	}

	ctx = context.WithoutCancel(ctx)
	key := c.staticKey
	if key == "" {
		var err error
		key, err = fetchAPIKey(ctx, c.getter, c.paramPrefix+"/api-token")
		if err != nil {
			return nil, err
		}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.stream = client.Models.GenerateContentStream
	return c.stream, nil
}

// StreamChat sends the conversation and calls onDelta for each text fragment.
func (c *Client) StreamChat(ctx context.Context, req domain.ChatRequest, onDelta func(string) error) error {
	if req.Model == "" {
		return errors.New("gemini: model must not be empty")
	}
	stream, err := c.resolveStream(ctx)
	if err != nil {
		return err
	}

	for resp, err := range stream(ctx, req.Model, toContents(req.Messages), generateConfig(req)) {
		if err != nil {
			return fmt.Errorf("gemini: stream: %w", wrapAPIError(err))
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			if err := onDelta(text); err != nil {
				return err
			}
		}
	}
	return nil
}

func generateConfig(req domain.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxOutputTokens),
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

func toContents(msgs []domain.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	return err
}

type tokenPayload struct {
	Token string `json:"token"`
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("gemini: API token is empty")
	}
	return tp.Token, nil
}
