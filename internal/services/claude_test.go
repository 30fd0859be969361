package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/yungbote/dreamcanvas-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestParseEnhanceContent_ValidJSON(t *testing.T) {
	content := `{"enhanced_prompt": "a majestic red fox, golden hour light", "style_suggestions": ["photorealistic", "cinematic"]}`
	result := ParseEnhanceContent(content, "a fox")
	if result.EnhancedPrompt != "a majestic red fox, golden hour light" {
		t.Fatalf("unexpected prompt %q", result.EnhancedPrompt)
	}
	if len(result.StyleSuggestions) != 2 || result.StyleSuggestions[0] != "photorealistic" {
		t.Fatalf("unexpected suggestions %v", result.StyleSuggestions)
	}
}

func TestParseEnhanceContent_RawTextFallback(t *testing.T) {
	content := "A majestic red fox trotting through fresh snow at dawn."
	result := ParseEnhanceContent(content, "a fox")
	if result.EnhancedPrompt != content {
		t.Fatalf("expected raw content as prompt, got %q", result.EnhancedPrompt)
	}
}

func TestParseEnhanceContent_EmptyFallsBackToOriginal(t *testing.T) {
	result := ParseEnhanceContent("", "a fox")
	if result.EnhancedPrompt != "a fox" {
		t.Fatalf("expected original prompt, got %q", result.EnhancedPrompt)
	}
}

func TestParseEnhanceContent_JSONWithEmptyPromptFallsBack(t *testing.T) {
	content := `{"enhanced_prompt": "   "}`
	result := ParseEnhanceContent(content, "a fox")
	if result.EnhancedPrompt != content {
		t.Fatalf("expected raw content, got %q", result.EnhancedPrompt)
	}
}

func TestExtractSuggestedPrompt(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "present",
			content: "Here is my idea.\n\nSUGGESTED PROMPT: a cyberpunk city at night, neon rain\n\nLet me know!",
			want:    "a cyberpunk city at night, neon rain",
		},
		{
			name:    "absent",
			content: "Could you tell me more about the mood you want?",
			want:    "",
		},
		{
			name:    "at end without newline",
			content: "SUGGESTED PROMPT: a quiet harbor at dawn",
			want:    "a quiet harbor at dawn",
		},
		{
			name:    "marker with empty rest",
			content: "SUGGESTED PROMPT:   ",
			want:    "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractSuggestedPrompt(tc.content)
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func anthropicReply(text string) map[string]any {
	return map[string]any{
		"content":     []map[string]any{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
	}
}

func TestClaudeClient_EnhancePromptRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Fatalf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Fatalf("missing anthropic-version header")
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("unexpected messages %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(anthropicReply(`{"enhanced_prompt": "enhanced fox", "style_suggestions": []}`))
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)
	t.Setenv("CLAUDE_MAX_RETRIES", "0")

	c, err := NewClaudeClient(testLogger(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := c.EnhancePrompt(context.Background(), "a fox", "watercolor", "blurry")
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if result.EnhancedPrompt != "enhanced fox" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestClaudeClient_RetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(anthropicReply("Hello! SUGGESTED PROMPT: a red fox"))
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)
	t.Setenv("CLAUDE_MAX_RETRIES", "2")

	c, err := NewClaudeClient(testLogger(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := c.Chat(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if result.SuggestedPrompt == nil || *result.SuggestedPrompt != "a red fox" {
		t.Fatalf("suggested prompt not extracted: %+v", result)
	}
}

func TestClaudeClient_NonRetryableErrorSurfaces(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "max_tokens required"}}`))
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)
	t.Setenv("CLAUDE_MAX_RETRIES", "3")

	c, err := NewClaudeClient(testLogger(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Chat(context.Background(), "hi", nil); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("400 must not be retried, got %d calls", calls)
	}
}
