package client

import (
	"time"

	"github.com/google/uuid"
)

// Generation lifecycle states, in forward order. failed is reachable from
// any non-terminal state.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusEnhancing  = "enhancing"
	StatusGenerating = "generating"
	StatusUploading  = "uploading"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// statusRank orders the forward progression so a late-arriving poll response
// for an earlier state can be recognized and dropped.
func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusEnhancing:
		return 2
	case StatusGenerating:
		return 3
	case StatusUploading:
		return 4
	case StatusCompleted, StatusFailed:
		return 5
	}
	return -1
}

type GenerationRequest struct {
	Prompt         string `json:"prompt"`
	EnhancePrompt  *bool  `json:"enhance_prompt,omitempty"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
}

type Generation struct {
	ID             uuid.UUID      `json:"id"`
	UserID         uuid.UUID      `json:"user_id"`
	OriginalPrompt string         `json:"original_prompt"`
	EnhancedPrompt *string        `json:"enhanced_prompt"`
	NegativePrompt *string        `json:"negative_prompt"`
	Status         string         `json:"status"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	Style          *string        `json:"style"`
	Size           string         `json:"size"`
	Quality        string         `json:"quality"`
	ImageURL       *string        `json:"image_url"`
	ThumbnailURL   *string        `json:"thumbnail_url"`
	Metadata       map[string]any `json:"metadata"`
	ErrorMessage   *string        `json:"error_message"`
	ErrorCode      *string        `json:"error_code"`
	Attempts       int            `json:"attempts"`
	StartedAt      *time.Time     `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (g *Generation) IsTerminal() bool { return IsTerminalStatus(g.Status) }

// StatusUpdate is the lightweight payload from the status endpoint.
type StatusUpdate struct {
	ID           uuid.UUID `json:"id"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	ImageURL     *string   `json:"image_url,omitempty"`
	ThumbnailURL *string   `json:"thumbnail_url,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	ErrorCode    *string   `json:"error_code,omitempty"`
}

type GalleryPage struct {
	Items    []Generation `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Pages    int          `json:"pages"`
}

type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         *User  `json:"user,omitempty"`
}

type User struct {
	ID              uuid.UUID      `json:"id"`
	Email           string         `json:"email"`
	DisplayName     string         `json:"display_name"`
	Bio             string         `json:"bio"`
	AvatarURL       string         `json:"avatar_url"`
	IsActive        bool           `json:"is_active"`
	Preferences     map[string]any `json:"preferences"`
	GenerationCount int            `json:"generation_count"`
}

type UpdateProfileRequest struct {
	DisplayName *string        `json:"display_name,omitempty"`
	Bio         *string        `json:"bio,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message string        `json:"message"`
	History []ChatMessage `json:"history,omitempty"`
}

type ChatResponse struct {
	Message         string  `json:"message"`
	SuggestedPrompt *string `json:"suggested_prompt,omitempty"`
}

type EnhanceRequest struct {
	Prompt         string `json:"prompt"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

type EnhanceResponse struct {
	OriginalPrompt   string   `json:"original_prompt"`
	EnhancedPrompt   string   `json:"enhanced_prompt"`
	StyleSuggestions []string `json:"style_suggestions,omitempty"`
}
