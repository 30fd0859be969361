package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dreamcanvas-backend/internal/clients/redis"
	"github.com/yungbote/dreamcanvas-backend/internal/logger"
	"github.com/yungbote/dreamcanvas-backend/internal/repos"
	"github.com/yungbote/dreamcanvas-backend/internal/sse"
	"github.com/yungbote/dreamcanvas-backend/internal/types"
)

const (
	workerPollInterval = 1 * time.Second
	workerMaxAttempts  = 3
	workerRetryDelay   = 60 * time.Second
	workerStaleRunning = 5 * time.Minute
)

// GenerationWorker drains the generation queue: it claims runnable rows and
// drives each one through enhance -> generate -> upload -> complete,
// broadcasting progress along the way.
type GenerationWorker interface {
	StartWorker(ctx context.Context)
	// ProcessGeneration runs the full pipeline for an already-claimed
	// generation. Exposed for synchronous generation requests.
	ProcessGeneration(ctx context.Context, gen *types.Generation) error
}

type generationWorker struct {
	db             *gorm.DB
	log            *logger.Logger
	generationRepo repos.GenerationRepo
	userRepo       repos.UserRepo
	claude         ClaudeClient
	imageGen       ImageGenClient
	storage        ImageStorageService
	hub            *sse.SSEHub
	bus            redis.EventBus
}

func NewGenerationWorker(
	db *gorm.DB,
	log *logger.Logger,
	generationRepo repos.GenerationRepo,
	userRepo repos.UserRepo,
	claude ClaudeClient,
	imageGen ImageGenClient,
	storage ImageStorageService,
	hub *sse.SSEHub,
	bus redis.EventBus,
) GenerationWorker {
	return &generationWorker{
		db:             db,
		log:            log.With("service", "GenerationWorker"),
		generationRepo: generationRepo,
		userRepo:       userRepo,
		claude:         claude,
		imageGen:       imageGen,
		storage:        storage,
		hub:            hub,
		bus:            bus,
	}
}

func (w *generationWorker) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(workerPollInterval)
		defer ticker.Stop()

		w.log.Info("Generation worker started",
			"max_attempts", workerMaxAttempts,
			"retry_delay", workerRetryDelay.String(),
		)

		for {
			select {
			case <-ctx.Done():
				w.log.Info("Generation worker stopping")
				return
			case <-ticker.C:
				gen, err := w.generationRepo.ClaimNextRunnable(ctx, nil, workerMaxAttempts, workerRetryDelay, workerStaleRunning)
				if err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						continue
					}
					w.log.Error("Failed to claim generation", "error", err.Error())
					continue
				}
				if gen == nil {
					continue
				}
				if err := w.ProcessGeneration(ctx, gen); err != nil {
					w.log.Error("Generation pipeline failed",
						"generation_id", gen.ID,
						"attempt", gen.Attempts,
						"error", err.Error(),
					)
				}
			}
		}
	}()
}

func (w *generationWorker) ProcessGeneration(ctx context.Context, gen *types.Generation) error {
	runLog := w.log.With("generation_id", gen.ID, "user_id", gen.UserID, "attempt", gen.Attempts)

	progress := func(status string) error {
		now := time.Now()
		if err := w.generationRepo.UpdateFields(ctx, nil, gen.ID, map[string]interface{}{
			"status":       status,
			"heartbeat_at": now,
		}); err != nil {
			return err
		}
		gen.Status = status
		gen.HeartbeatAt = &now
		w.broadcast(ctx, sse.SSEMessage{
			Channel: sse.UserChannel(gen.UserID),
			Event:   sse.SSEEventGenerationProgress,
			Data: map[string]any{
				"generation_id": gen.ID,
				"status":        status,
				"message":       StatusMessage(gen),
			},
		})
		return nil
	}

	fail := func(code, msg string, cause error) error {
		now := time.Now()
		if cause != nil {
			runLog.Warn("Generation step failed", "code", code, "error", cause.Error())
		}
		updates := map[string]interface{}{
			"status":        types.GenerationStatusFailed,
			"error_code":    code,
			"error_message": msg,
			"last_error_at": now,
			"locked_at":     nil,
			"heartbeat_at":  nil,
		}
		if gen.Attempts >= workerMaxAttempts {
			updates["completed_at"] = now
		}
		if err := w.generationRepo.UpdateFields(ctx, nil, gen.ID, updates); err != nil {
			runLog.Error("Failed to record generation failure", "error", err.Error())
		}
		gen.Status = types.GenerationStatusFailed
		w.broadcast(ctx, sse.SSEMessage{
			Channel: sse.UserChannel(gen.UserID),
			Event:   sse.SSEEventGenerationFailed,
			Data: map[string]any{
				"generation_id": gen.ID,
				"status":        types.GenerationStatusFailed,
				"error_code":    code,
				"error_message": msg,
				"attempt":       gen.Attempts,
			},
		})
		if cause != nil {
			return fmt.Errorf("%s: %w", code, cause)
		}
		return fmt.Errorf("%s: %s", code, msg)
	}

	// Enhance
	prompt := gen.OriginalPrompt
	if w.shouldEnhance(gen) && w.claude != nil {
		if err := progress(types.GenerationStatusEnhancing); err != nil {
			return err
		}
		style := ""
		if gen.Style != nil {
			style = *gen.Style
		}
		negative := ""
		if gen.NegativePrompt != nil {
			negative = *gen.NegativePrompt
		}
		enhanced, err := w.claude.EnhancePrompt(ctx, prompt, style, negative)
		if err != nil {
			// Enhancement is best-effort: fall back to the original prompt.
			runLog.Warn("Prompt enhancement failed, using original prompt", "error", err.Error())
		} else if enhanced.EnhancedPrompt != "" {
			prompt = enhanced.EnhancedPrompt
			if uErr := w.generationRepo.UpdateFields(ctx, nil, gen.ID, map[string]interface{}{
				"enhanced_prompt": enhanced.EnhancedPrompt,
			}); uErr != nil {
				runLog.Warn("Failed to persist enhanced prompt", "error", uErr.Error())
			}
			gen.EnhancedPrompt = &enhanced.EnhancedPrompt
		}
	}

	// Generate
	if err := progress(types.GenerationStatusGenerating); err != nil {
		return err
	}
	result, err := w.imageGen.Generate(ctx, prompt, gen.Size, gen.Quality)
	if err != nil {
		return fail("generation_failed", "Image generation failed", err)
	}

	// Upload
	if err := progress(types.GenerationStatusUploading); err != nil {
		return err
	}
	var stored *StoredImage
	if len(result.ImageData) > 0 {
		stored, err = w.storage.UploadImage(ctx, gen.UserID, gen.ID, result.ImageData)
	} else if result.ImageURL != "" {
		stored, err = w.storage.UploadFromURL(ctx, gen.UserID, gen.ID, result.ImageURL)
	} else {
		err = fmt.Errorf("provider returned neither image data nor a url")
	}
	if err != nil {
		return fail("upload_failed", "Failed to store generated image", err)
	}

	// Complete
	now := time.Now()
	meta, err := mergeGenerationMetadata(gen.Metadata, result, stored)
	if err != nil {
		runLog.Warn("Failed to merge generation metadata", "error", err.Error())
		meta = gen.Metadata
	}
	updates := map[string]interface{}{
		"status":        types.GenerationStatusCompleted,
		"image_url":     stored.ImageURL,
		"thumbnail_url": stored.ThumbnailURL,
		"metadata":      meta,
		"completed_at":  now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	}
	if result.RevisedPrompt != "" {
		updates["enhanced_prompt"] = result.RevisedPrompt
		gen.EnhancedPrompt = &result.RevisedPrompt
	}
	if err := w.generationRepo.UpdateFields(ctx, nil, gen.ID, updates); err != nil {
		return fail("finalize_failed", "Failed to finalize generation", err)
	}
	gen.Status = types.GenerationStatusCompleted
	gen.ImageURL = &stored.ImageURL
	gen.ThumbnailURL = &stored.ThumbnailURL
	gen.CompletedAt = &now
	gen.Metadata = meta

	if err := w.userRepo.UpdateFields(ctx, nil, gen.UserID, map[string]interface{}{
		"generation_count":   gorm.Expr("generation_count + 1"),
		"last_generation_at": now,
	}); err != nil {
		runLog.Warn("Failed to bump user generation count", "error", err.Error())
	}

	runLog.Info("Generation completed", "duration_seconds", gen.DurationSeconds())
	w.broadcast(ctx, sse.SSEMessage{
		Channel: sse.UserChannel(gen.UserID),
		Event:   sse.SSEEventGenerationCompleted,
		Data: map[string]any{
			"generation_id": gen.ID,
			"status":        types.GenerationStatusCompleted,
			"image_url":     stored.ImageURL,
			"thumbnail_url": stored.ThumbnailURL,
		},
	})
	return nil
}

func (w *generationWorker) shouldEnhance(gen *types.Generation) bool {
	if len(gen.Metadata) == 0 {
		return true
	}
	var parsed map[string]any
	if err := json.Unmarshal(gen.Metadata, &parsed); err != nil {
		return true
	}
	if v, ok := parsed["enhance_prompt"].(bool); ok {
		return v
	}
	return true
}

// broadcast delivers an event to in-process SSE clients and, when the redis
// bus is configured, to every other instance.
func (w *generationWorker) broadcast(ctx context.Context, msg sse.SSEMessage) {
	if w.hub != nil {
		w.hub.Broadcast(msg)
	}
	if w.bus != nil {
		if err := w.bus.Publish(ctx, msg); err != nil {
			w.log.Warn("Failed to publish event to bus", "event", msg.Event, "error", err.Error())
		}
	}
}

func mergeGenerationMetadata(existing datatypes.JSON, result *ImageResult, stored *StoredImage) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, err
		}
	}
	for k, v := range result.Metadata {
		merged[k] = v
	}
	merged["image_key"] = stored.ImageKey
	if stored.ThumbnailKey != "" {
		merged["thumbnail_key"] = stored.ThumbnailKey
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}
