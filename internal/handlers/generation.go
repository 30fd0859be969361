package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/dreamcanvas-backend/internal/requestdata"
	"github.com/yungbote/dreamcanvas-backend/internal/services"
)

type GenerationHandler struct {
	generationService services.GenerationService
	worker            services.GenerationWorker
}

func NewGenerationHandler(generationService services.GenerationService, worker services.GenerationWorker) *GenerationHandler {
	return &GenerationHandler{generationService: generationService, worker: worker}
}

func (gh *GenerationHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing authentication"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func (gh *GenerationHandler) Create(c *gin.Context) {
	userID, ok := gh.userID(c)
	if !ok {
		return
	}

	var req struct {
		Prompt         string `json:"prompt"`
		EnhancePrompt  *bool  `json:"enhance_prompt"`
		Style          string `json:"style"`
		NegativePrompt string `json:"negative_prompt"`
		Size           string `json:"size"`
		Quality        string `json:"quality"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	sync := c.Query("sync") == "true"

	gen, err := gh.generationService.CreateGeneration(c.Request.Context(), userID, services.CreateGenerationInput{
		Prompt:         req.Prompt,
		EnhancePrompt:  req.EnhancePrompt,
		Style:          req.Style,
		NegativePrompt: req.NegativePrompt,
		Size:           req.Size,
		Quality:        req.Quality,
		RunInline:      sync,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	if sync {
		if err := gh.worker.ProcessGeneration(c.Request.Context(), gen); err != nil {
			// The row already records the failure; return it as-is.
			refreshed, gErr := gh.generationService.GetGeneration(c.Request.Context(), userID, gen.ID)
			if gErr == nil {
				gen = refreshed
			}
			c.JSON(http.StatusOK, gen)
			return
		}
		refreshed, gErr := gh.generationService.GetGeneration(c.Request.Context(), userID, gen.ID)
		if gErr == nil {
			gen = refreshed
		}
		RespondOK(c, gen)
		return
	}

	c.JSON(http.StatusAccepted, gen)
}

func (gh *GenerationHandler) Get(c *gin.Context) {
	userID, ok := gh.userID(c)
	if !ok {
		return
	}
	genID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	gen, err := gh.generationService.GetGeneration(c.Request.Context(), userID, genID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gen)
}

func (gh *GenerationHandler) Status(c *gin.Context) {
	userID, ok := gh.userID(c)
	if !ok {
		return
	}
	genID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	gen, err := gh.generationService.GetGeneration(c.Request.Context(), userID, genID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	payload := gin.H{
		"id":      gen.ID,
		"status":  gen.Status,
		"message": services.StatusMessage(gen),
	}
	if gen.ImageURL != nil {
		payload["image_url"] = *gen.ImageURL
	}
	if gen.ThumbnailURL != nil {
		payload["thumbnail_url"] = *gen.ThumbnailURL
	}
	if gen.ErrorMessage != nil {
		payload["error_message"] = *gen.ErrorMessage
	}
	if gen.ErrorCode != nil {
		payload["error_code"] = *gen.ErrorCode
	}
	RespondOK(c, payload)
}

func (gh *GenerationHandler) Delete(c *gin.Context) {
	userID, ok := gh.userID(c)
	if !ok {
		return
	}
	genID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := gh.generationService.DeleteGeneration(c.Request.Context(), userID, genID); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (gh *GenerationHandler) Gallery(c *gin.Context) {
	userID, ok := gh.userID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	result, err := gh.generationService.ListGenerations(c.Request.Context(), userID, page, pageSize, status)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}
