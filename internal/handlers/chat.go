package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dreamcanvas-backend/internal/services"
)

type ChatHandler struct {
	chatService services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (ch *ChatHandler) Chat(c *gin.Context) {
	var req struct {
		Message string                 `json:"message"`
		History []services.ChatMessage `json:"history"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	result, err := ch.chatService.Chat(c.Request.Context(), req.Message, req.History)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

func (ch *ChatHandler) Enhance(c *gin.Context) {
	var req struct {
		Prompt         string `json:"prompt"`
		Style          string `json:"style"`
		NegativePrompt string `json:"negative_prompt"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	// Query params work too, for callers that can't send a body.
	if req.Prompt == "" {
		req.Prompt = c.Query("prompt")
		req.Style = c.Query("style")
		req.NegativePrompt = c.Query("negative_prompt")
	}
	result, err := ch.chatService.Enhance(c.Request.Context(), req.Prompt, req.Style, req.NegativePrompt)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"original_prompt":   req.Prompt,
		"enhanced_prompt":   result.EnhancedPrompt,
		"style_suggestions": result.StyleSuggestions,
	})
}
