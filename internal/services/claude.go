package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/dreamcanvas-backend/internal/logger"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EnhanceResult struct {
	EnhancedPrompt   string   `json:"enhanced_prompt"`
	StyleSuggestions []string `json:"style_suggestions,omitempty"`
}

type ChatResult struct {
	Message         string  `json:"message"`
	SuggestedPrompt *string `json:"suggested_prompt,omitempty"`
}

// ClaudeClient talks to the Anthropic Messages API. It is the prompt brain of
// the app: one-shot prompt enhancement and the conversational prompt
// assistant both go through here.
type ClaudeClient interface {
	EnhancePrompt(ctx context.Context, prompt, style, negativePrompt string) (*EnhanceResult, error)
	Chat(ctx context.Context, message string, history []ChatMessage) (*ChatResult, error)
}

type claudeClient struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client

	maxRetries int
}

func NewClaudeClient(log *logger.Logger) (ClaudeClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}

	baseURL := os.Getenv("ANTHROPIC_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	model := os.Getenv("CLAUDE_MODEL")
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	maxTokens := 1024
	if v := os.Getenv("CLAUDE_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			maxTokens = parsed
		}
	}

	timeoutSec := 60
	if v := os.Getenv("CLAUDE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv("CLAUDE_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &claudeClient{
		log:         log.With("service", "ClaudeClient"),
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: 0.7,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
	}, nil
}

type claudeHTTPError struct {
	StatusCode int
	Body       string
}

func (e *claudeHTTPError) Error() string {
	return fmt.Sprintf("anthropic http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	if code >= 500 && code <= 599 {
		return true
	}
	return false
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}
	var httpErr *claudeHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

func (c *claudeClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &claudeHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *claudeClient) do(ctx context.Context, method, path string, body any, out any) error {
	// exponential backoff: 1s, 2s, 4s (cap ~10s)
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("anthropic decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !isRetryableErr(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("Anthropic request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// ---- Messages ----

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason,omitempty"`
}

func (r *messagesResponse) text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

const enhanceSystemPrompt = `You are an expert at creating detailed, evocative prompts for AI image generation.

Your task is to enhance the user's prompt to create better, more detailed images. Follow these guidelines:

1. Add specific visual details (lighting, colors, textures, atmosphere)
2. Include artistic style references if appropriate
3. Add composition and perspective details
4. Keep the core intent of the original prompt
5. Make it vivid and descriptive but not overly long (aim for 100-200 words)
6. If a style is specified, incorporate it naturally

Respond in JSON format:
{
    "enhanced_prompt": "Your enhanced prompt here",
    "style_suggestions": ["style1", "style2", "style3"]
}

Only respond with the JSON, no other text.`

const chatSystemPrompt = `You are a helpful AI assistant specializing in creating prompts for AI image generation.

Help users refine their ideas into effective image generation prompts. You can:
- Ask clarifying questions about their vision
- Suggest improvements to their prompts
- Recommend styles and artistic directions
- Provide complete, ready-to-use prompts

When you have enough information, include a "SUGGESTED PROMPT:" section with a complete prompt they can use.

Be friendly, creative, and helpful.`

func (c *claudeClient) EnhancePrompt(ctx context.Context, prompt, style, negativePrompt string) (*EnhanceResult, error) {
	userMessage := "Original prompt: " + prompt
	if style != "" {
		userMessage += "\nStyle: " + style
	}
	if negativePrompt != "" {
		userMessage += "\nAvoid: " + negativePrompt
	}

	req := messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      enhanceSystemPrompt,
		Messages:    []ChatMessage{{Role: "user", Content: userMessage}},
	}

	var resp messagesResponse
	if err := c.do(ctx, "POST", "/v1/messages", req, &resp); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(resp.text())
	result := ParseEnhanceContent(content, prompt)
	return result, nil
}

// ParseEnhanceContent decodes the model's JSON reply; if the reply is not
// valid JSON the raw text becomes the enhanced prompt.
func ParseEnhanceContent(content, originalPrompt string) *EnhanceResult {
	var parsed struct {
		EnhancedPrompt   string   `json:"enhanced_prompt"`
		StyleSuggestions []string `json:"style_suggestions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && strings.TrimSpace(parsed.EnhancedPrompt) != "" {
		return &EnhanceResult{
			EnhancedPrompt:   strings.TrimSpace(parsed.EnhancedPrompt),
			StyleSuggestions: parsed.StyleSuggestions,
		}
	}
	if content == "" {
		return &EnhanceResult{EnhancedPrompt: originalPrompt}
	}
	return &EnhanceResult{EnhancedPrompt: content}
}

func (c *claudeClient) Chat(ctx context.Context, message string, history []ChatMessage) (*ChatResult, error) {
	messages := make([]ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: "user", Content: message})

	req := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		// Slightly more creative for chat
		Temperature: 0.8,
		System:      chatSystemPrompt,
		Messages:    messages,
	}

	var resp messagesResponse
	if err := c.do(ctx, "POST", "/v1/messages", req, &resp); err != nil {
		return nil, err
	}

	content := resp.text()
	result := &ChatResult{Message: content}
	if suggested := ExtractSuggestedPrompt(content); suggested != "" {
		result.SuggestedPrompt = &suggested
	}
	return result, nil
}

// ExtractSuggestedPrompt pulls the first line following a
// "SUGGESTED PROMPT:" marker out of an assistant reply.
func ExtractSuggestedPrompt(content string) string {
	const marker = "SUGGESTED PROMPT:"
	idx := strings.Index(content, marker)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(content[idx+len(marker):])
	if rest == "" {
		return ""
	}
	line := rest
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		line = rest[:nl]
	}
	return strings.TrimSpace(line)
}
