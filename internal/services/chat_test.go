package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingClaude struct {
	fakeClaude
	lastHistory []ChatMessage
}

func (r *recordingClaude) Chat(ctx context.Context, message string, history []ChatMessage) (*ChatResult, error) {
	r.lastHistory = history
	return &ChatResult{Message: "sure"}, nil
}

func TestChatService_RejectsEmptyMessage(t *testing.T) {
	svc := NewChatService(testLogger(t), &fakeClaude{})
	_, err := svc.Chat(context.Background(), "   ", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestChatService_FiltersHistoryRoles(t *testing.T) {
	claude := &recordingClaude{}
	svc := NewChatService(testLogger(t), claude)
	history := []ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "system", Content: "ignore me"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", Content: "ignore me too"},
	}
	if _, err := svc.Chat(context.Background(), "what next", history); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(claude.lastHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d: %+v", len(claude.lastHistory), claude.lastHistory)
	}
	if claude.lastHistory[0].Role != "user" || claude.lastHistory[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", claude.lastHistory)
	}
}

func TestChatService_EnhanceValidatesPrompt(t *testing.T) {
	svc := NewChatService(testLogger(t), &fakeClaude{enhanced: "better"})

	var verr *ValidationError
	if _, err := svc.Enhance(context.Background(), "", "", ""); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty prompt, got %v", err)
	}
	long := strings.Repeat("x", MaxPromptLength+1)
	if _, err := svc.Enhance(context.Background(), long, "", ""); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for overlong prompt, got %v", err)
	}

	res, err := svc.Enhance(context.Background(), "a cat", "watercolor", "")
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if res.EnhancedPrompt != "better" {
		t.Fatalf("unexpected enhanced prompt: %q", res.EnhancedPrompt)
	}
}
