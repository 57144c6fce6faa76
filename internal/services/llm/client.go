// Package llm generates transcript summaries through an OpenAI-compatible
// chat completions endpoint. Transient upstream failures (429 and 5xx) are
// retried with backoff; auth and request errors fail immediately.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"murmur/internal/config"
	"murmur/internal/jobs"
	"murmur/internal/logging"
	"murmur/internal/services"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second

	systemPrompt = "You summarize meeting and call transcripts. Write a concise summary " +
		"covering the main topics, decisions, and action items. Use plain prose."
)

type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second},
		baseURL:     cfg.LLM.BaseURL,
		apiKey:      cfg.LLM.APIKey,
		model:       cfg.LLM.Model,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		logger:      logger.With(logging.String(logging.FieldComponent, "llm")),
	}
}

// Ready reports whether summarization can run for the given job. A per-job
// API key overrides the configured one.
func (c *Client) Ready(opts jobs.Options) (bool, string) {
	if c.resolveKey(opts) == "" {
		return false, "no OpenAI API key configured"
	}
	return true, ""
}

func (c *Client) Summarize(ctx context.Context, transcription *jobs.Transcription, opts jobs.Options) (string, jobs.StageMetadata, error) {
	model := c.model
	if opts.LLMModel != "" {
		model = opts.LLMModel
	}
	baseURL := c.baseURL
	if opts.LLMBaseURL != "" {
		baseURL = opts.LLMBaseURL
	}
	apiKey := c.resolveKey(opts)
	if apiKey == "" {
		return "", jobs.StageMetadata{}, services.Wrap(services.ErrConfiguration, "summarization", "llm", "no API key", nil)
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(transcription)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", jobs.StageMetadata{}, fmt.Errorf("encode summary request: %w", err)
	}

	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()
	content, err := c.completeWithRetry(ctx, logger, baseURL, apiKey, payload)
	if err != nil {
		return "", jobs.StageMetadata{}, err
	}
	logger.Info("summary generated",
		logging.String("model", model),
		logging.Duration("elapsed", time.Since(started)))
	return content, jobs.StageMetadata{Model: model, DurationSeconds: time.Since(started).Seconds()}, nil
}

func (c *Client) resolveKey(opts jobs.Options) string {
	if key := strings.TrimSpace(opts.LLMAPIKey); key != "" {
		return key
	}
	return strings.TrimSpace(c.apiKey)
}

func (c *Client) completeWithRetry(ctx context.Context, logger *slog.Logger, baseURL, apiKey string, payload []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		content, err := c.complete(ctx, baseURL, apiKey, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
		if attempt == c.maxAttempts {
			break
		}
		logger.Warn("summary request failed, retrying",
			logging.Int("attempt", attempt), logging.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return "", lastErr
}

func (c *Client) complete(ctx context.Context, baseURL, apiKey string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build summary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "summarization", "llm", "request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "summarization", "llm", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "summarization", "llm", "decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", services.Wrap(services.ErrExternalTool, "summarization", "llm", "empty response", nil)
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", services.Wrap(services.ErrExternalTool, "summarization", "llm", "empty summary", nil)
	}
	return content, nil
}

// buildPrompt renders the transcript for the model. Speaker-labeled segments
// keep their attribution so the summary can reference who said what.
func buildPrompt(transcription *jobs.Transcription) string {
	var b strings.Builder
	b.WriteString("Summarize the following transcript.\n\n")
	labeled := false
	for _, segment := range transcription.Segments {
		if segment.Speaker != "" {
			labeled = true
			break
		}
	}
	if !labeled {
		b.WriteString(transcription.Text)
		return b.String()
	}
	for _, segment := range transcription.Segments {
		speaker := segment.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, segment.Text)
	}
	return b.String()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("llm endpoint returned status %d", e.status)
	}
	return fmt.Sprintf("llm endpoint returned status %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	return errors.Is(err, services.ErrTransient)
}
