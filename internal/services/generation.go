package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dreamcanvas-backend/internal/clients/redis"
	"github.com/yungbote/dreamcanvas-backend/internal/logger"
	"github.com/yungbote/dreamcanvas-backend/internal/repos"
	"github.com/yungbote/dreamcanvas-backend/internal/sse"
	"github.com/yungbote/dreamcanvas-backend/internal/ssedata"
	"github.com/yungbote/dreamcanvas-backend/internal/types"
)

const (
	MaxPromptLength = 4000

	defaultGenerationLimitPerHour = 10
)

var (
	AllowedSizes     = []string{"1024x1024", "1792x1024", "1024x1792", "512x512"}
	AllowedQualities = []string{"standard", "hd"}
)

// ErrValidation marks a request-shaped failure the handler should map to a
// 422 rather than a 500.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ErrRateLimited is returned when a user exceeds their hourly generation
// quota.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("generation limit of %d per hour reached", e.Limit)
}

// ErrNotFound covers both missing records and records owned by another user,
// so ownership is never leaked through the error surface.
type NotFoundError struct{ Resource string }

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

type CreateGenerationInput struct {
	Prompt         string
	EnhancePrompt  *bool
	Style          string
	NegativePrompt string
	Size           string
	Quality        string

	// RunInline creates the row already claimed so the background worker
	// never picks it up; the caller runs the pipeline itself.
	RunInline bool
}

type GenerationPage struct {
	Items    []*types.Generation `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Pages    int                 `json:"pages"`
}

type GenerationService interface {
	CreateGeneration(ctx context.Context, userID uuid.UUID, input CreateGenerationInput) (*types.Generation, error)
	GetGeneration(ctx context.Context, userID, generationID uuid.UUID) (*types.Generation, error)
	ListGenerations(ctx context.Context, userID uuid.UUID, page, pageSize int, status string) (*GenerationPage, error)
	DeleteGeneration(ctx context.Context, userID, generationID uuid.UUID) error
}

type generationService struct {
	db             *gorm.DB
	log            *logger.Logger
	generationRepo repos.GenerationRepo
	storage        ImageStorageService
	hub            *sse.SSEHub
	bus            redis.EventBus
	provider       string
	model          string
	limitPerHour   int
}

func NewGenerationService(
	db *gorm.DB,
	log *logger.Logger,
	generationRepo repos.GenerationRepo,
	storage ImageStorageService,
	imageGen ImageGenClient,
	hub *sse.SSEHub,
	bus redis.EventBus,
	limitPerHour int,
) GenerationService {
	if limitPerHour <= 0 {
		limitPerHour = defaultGenerationLimitPerHour
	}
	provider := types.ImageProviderDalle
	model := "dall-e-3"
	if imageGen != nil {
		provider = imageGen.Provider()
		if provider == types.ImageProviderStability {
			model = "stable-diffusion-xl"
		}
	}
	return &generationService{
		db:             db,
		log:            log.With("service", "GenerationService"),
		generationRepo: generationRepo,
		storage:        storage,
		hub:            hub,
		bus:            bus,
		provider:       provider,
		model:          model,
		limitPerHour:   limitPerHour,
	}
}

func (gs *generationService) CreateGeneration(ctx context.Context, userID uuid.UUID, input CreateGenerationInput) (*types.Generation, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, &ValidationError{Msg: "prompt must not be empty"}
	}
	if len(prompt) > MaxPromptLength {
		return nil, &ValidationError{Msg: fmt.Sprintf("prompt must be at most %d characters", MaxPromptLength)}
	}

	size := input.Size
	if size == "" {
		size = "1024x1024"
	}
	if !contains(AllowedSizes, size) {
		return nil, &ValidationError{Msg: fmt.Sprintf("size must be one of %s", strings.Join(AllowedSizes, ", "))}
	}

	quality := input.Quality
	if quality == "" {
		quality = "standard"
	}
	if !contains(AllowedQualities, quality) {
		return nil, &ValidationError{Msg: fmt.Sprintf("quality must be one of %s", strings.Join(AllowedQualities, ", "))}
	}

	since := time.Now().Add(-1 * time.Hour)
	count, err := gs.generationRepo.CountForUserSince(ctx, nil, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to check generation quota: %w", err)
	}
	if count >= int64(gs.limitPerHour) {
		return nil, &RateLimitError{Limit: gs.limitPerHour, RetryAfter: time.Hour}
	}

	enhance := true
	if input.EnhancePrompt != nil {
		enhance = *input.EnhancePrompt
	}

	meta, err := json.Marshal(map[string]any{"enhance_prompt": enhance})
	if err != nil {
		return nil, err
	}

	gen := &types.Generation{
		ID:             uuid.New(),
		UserID:         userID,
		OriginalPrompt: prompt,
		Status:         types.GenerationStatusPending,
		Provider:       gs.provider,
		Model:          gs.model,
		Size:           size,
		Quality:        quality,
		Metadata:       datatypes.JSON(meta),
	}
	if s := strings.TrimSpace(input.Style); s != "" {
		gen.Style = &s
	}
	if n := strings.TrimSpace(input.NegativePrompt); n != "" {
		gen.NegativePrompt = &n
	}
	if input.RunInline {
		now := time.Now()
		gen.Status = types.GenerationStatusProcessing
		gen.Attempts = 1
		gen.StartedAt = &now
		gen.LockedAt = &now
		gen.HeartbeatAt = &now
	}

	created, err := gs.generationRepo.Create(ctx, nil, []*types.Generation{gen})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	gen = created[0]

	if !input.RunInline {
		gs.broadcast(ctx, sse.SSEMessage{
			Channel: sse.UserChannel(userID),
			Event:   sse.SSEEventGenerationQueued,
			Data: map[string]any{
				"generation_id": gen.ID,
				"status":        gen.Status,
				"message":       StatusMessage(gen),
			},
		})
	}
	return gen, nil
}

// broadcast defers to the request-scoped accumulator when one is present, so
// events created mid-request only fire once the request has finished.
func (gs *generationService) broadcast(ctx context.Context, msg sse.SSEMessage) {
	if data := ssedata.GetSSEData(ctx); data != nil {
		data.AppendMessage(msg)
		return
	}
	if gs.hub != nil {
		gs.hub.Broadcast(msg)
	}
	if gs.bus != nil {
		if err := gs.bus.Publish(ctx, msg); err != nil {
			gs.log.Warn("failed to publish event to bus", "event", msg.Event, "error", err.Error())
		}
	}
}

func (gs *generationService) GetGeneration(ctx context.Context, userID, generationID uuid.UUID) (*types.Generation, error) {
	gens, err := gs.generationRepo.GetByIDs(ctx, nil, []uuid.UUID{generationID})
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 || gens[0].UserID != userID {
		return nil, &NotFoundError{Resource: "generation"}
	}
	return gens[0], nil
}

func (gs *generationService) ListGenerations(ctx context.Context, userID uuid.UUID, page, pageSize int, status string) (*GenerationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if status != "" && !types.GenerationStatusIsValid(status) {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid status filter %q", status)}
	}

	items, total, err := gs.generationRepo.ListByUserID(ctx, nil, userID, page, pageSize, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &GenerationPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pages,
	}, nil
}

func (gs *generationService) DeleteGeneration(ctx context.Context, userID, generationID uuid.UUID) error {
	gen, err := gs.GetGeneration(ctx, userID, generationID)
	if err != nil {
		return err
	}

	imageKey, thumbKey := StorageKeysFromMetadata(gen.Metadata)
	if gs.storage != nil && (imageKey != "" || thumbKey != "") {
		if err := gs.storage.DeleteImage(ctx, imageKey, thumbKey); err != nil {
			gs.log.Warn("failed to delete stored image (ignored)", "generation_id", gen.ID, "error", err.Error())
		}
	}

	if err := gs.generationRepo.FullDeleteByIDs(ctx, nil, []uuid.UUID{gen.ID}); err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	return nil
}

// StorageKeysFromMetadata extracts the bucket keys recorded during upload.
func StorageKeysFromMetadata(meta datatypes.JSON) (imageKey, thumbnailKey string) {
	if len(meta) == 0 {
		return "", ""
	}
	var parsed map[string]any
	if err := json.Unmarshal(meta, &parsed); err != nil {
		return "", ""
	}
	if v, ok := parsed["image_key"].(string); ok {
		imageKey = v
	}
	if v, ok := parsed["thumbnail_key"].(string); ok {
		thumbnailKey = v
	}
	return imageKey, thumbnailKey
}

// StatusMessage is the human-readable progress line shown next to each
// lifecycle state.
func StatusMessage(gen *types.Generation) string {
	switch gen.Status {
	case types.GenerationStatusPending:
		return "Waiting in queue..."
	case types.GenerationStatusProcessing:
		return "Starting generation..."
	case types.GenerationStatusEnhancing:
		return "Enhancing your prompt..."
	case types.GenerationStatusGenerating:
		return "Creating your image..."
	case types.GenerationStatusUploading:
		return "Finalizing..."
	case types.GenerationStatusCompleted:
		return "Complete!"
	case types.GenerationStatusFailed:
		if gen.ErrorMessage != nil && *gen.ErrorMessage != "" {
			return *gen.ErrorMessage
		}
		return "Generation failed"
	}
	return gen.Status
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
