package interpret

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

const defaultDisclaimer = "For reflection/entertainment; not medical/legal/financial advice."

// StatusError is a non-200 response from the chat completion endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Client implements Interpreter via an OpenRouter-compatible API.
type Client struct {
	httpClient     *http.Client
	apiKey         string
	baseURL        string
	model          string
	fallbackModels []string
	logger         *slog.Logger
}

func NewClient(httpClient *http.Client, apiKey, baseURL, model string, fallbackModels []string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		model:          model,
		fallbackModels: fallbackModels,
		logger:         logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Interpret(ctx context.Context, req Request) (Result, error) {
	return c.complete(ctx, systemPrompt(req.Lang, req.Style), readingPrompt(req))
}

func (c *Client) FollowUp(ctx context.Context, req FollowUpRequest) (Result, error) {
	return c.complete(ctx, systemPrompt(req.Lang, req.Style), followUpPrompt(req))
}

// complete tries the primary model, then each fallback in order.
func (c *Client) complete(ctx context.Context, system, user string) (Result, error) {
	models := make([]string, 0, 1+len(c.fallbackModels))
	models = append(models, c.model)
	models = append(models, c.fallbackModels...)

	var lastErr error
	for _, model := range models {
		out, err := c.completeWithModel(ctx, model, system, user)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if len(models) > 1 {
			c.logger.WarnContext(ctx, "model failed, trying next", "model", model, "error", err)
		}
	}
	return Result{}, lastErr
}

func (c *Client) completeWithModel(ctx context.Context, model, system, user string) (Result, error) {
	content, err := c.call(ctx, model, system, user)
	if err != nil {
		return Result{}, err
	}

	var out Result
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		c.logger.WarnContext(ctx, "LLM returned invalid JSON, retrying", "model", model, "error", err)
		content, err = c.call(ctx, model, system, repairPrompt(content))
		if err != nil {
			return Result{}, err
		}
		if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
	}
	if strings.TrimSpace(out.Text) == "" {
		return Result{}, fmt.Errorf("%w: empty text", ErrInvalidResponse)
	}

	if out.Style == "" {
		out.Style = string(ToneNeutral)
	}
	if out.Disclaimer == "" {
		out.Disclaimer = defaultDisclaimer
	}
	out.Model = model
	return out, nil
}

func (c *Client) call(ctx context.Context, model, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: http call: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 512)}
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %w", ErrRateLimited, se)
		}
		return "", fmt.Errorf("%w: %w", ErrUpstream, se)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrUpstream)
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// stripFences removes a surrounding markdown code fence some models add
// despite being told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
