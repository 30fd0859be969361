package services

import (
	"context"
	"strings"

	"github.com/yungbote/dreamcanvas-backend/internal/logger"
)

// ChatService fronts the Claude client for the prompt assistant endpoints.
type ChatService interface {
	Chat(ctx context.Context, message string, history []ChatMessage) (*ChatResult, error)
	Enhance(ctx context.Context, prompt, style, negativePrompt string) (*EnhanceResult, error)
}

type chatService struct {
	log    *logger.Logger
	claude ClaudeClient
}

func NewChatService(log *logger.Logger, claude ClaudeClient) ChatService {
	return &chatService{
		log:    log.With("service", "ChatService"),
		claude: claude,
	}
}

func (cs *chatService) Chat(ctx context.Context, message string, history []ChatMessage) (*ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &ValidationError{Msg: "message must not be empty"}
	}
	// History roles other than user/assistant confuse the model; drop them.
	cleaned := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Role == "user" || m.Role == "assistant" {
			cleaned = append(cleaned, m)
		}
	}
	return cs.claude.Chat(ctx, message, cleaned)
}

func (cs *chatService) Enhance(ctx context.Context, prompt, style, negativePrompt string) (*EnhanceResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, &ValidationError{Msg: "prompt must not be empty"}
	}
	if len(prompt) > MaxPromptLength {
		return nil, &ValidationError{Msg: "prompt too long"}
	}
	return cs.claude.EnhancePrompt(ctx, prompt, style, negativePrompt)
}
