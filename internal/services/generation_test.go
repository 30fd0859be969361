package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/dreamcanvas-backend/internal/sse"
	"github.com/yungbote/dreamcanvas-backend/internal/ssedata"
	"github.com/yungbote/dreamcanvas-backend/internal/types"
)

func newTestGenerationService(t *testing.T, repo *fakeGenerationRepo) GenerationService {
	t.Helper()
	return NewGenerationService(nil, testLogger(t), repo, &fakeStorage{}, &fakeImageGen{}, nil, nil, 10)
}

func TestCreateGeneration_RejectsEmptyPrompt(t *testing.T) {
	svc := newTestGenerationService(t, newFakeGenerationRepo())
	_, err := svc.CreateGeneration(context.Background(), uuid.New(), CreateGenerationInput{Prompt: "   "})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateGeneration_RejectsOverlongPrompt(t *testing.T) {
	svc := newTestGenerationService(t, newFakeGenerationRepo())
	_, err := svc.CreateGeneration(context.Background(), uuid.New(), CreateGenerationInput{
		Prompt: strings.Repeat("x", MaxPromptLength+1),
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateGeneration_RejectsUnknownSizeAndQuality(t *testing.T) {
	svc := newTestGenerationService(t, newFakeGenerationRepo())

	_, err := svc.CreateGeneration(context.Background(), uuid.New(), CreateGenerationInput{
		Prompt: "a fox", Size: "800x600",
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected size validation error, got %v", err)
	}

	_, err = svc.CreateGeneration(context.Background(), uuid.New(), CreateGenerationInput{
		Prompt: "a fox", Quality: "ultra",
	})
	if !errors.As(err, &vErr) {
		t.Fatalf("expected quality validation error, got %v", err)
	}
}

func TestCreateGeneration_DefaultsAndMetadata(t *testing.T) {
	repo := newFakeGenerationRepo()
	svc := newTestGenerationService(t, repo)

	gen, err := svc.CreateGeneration(context.Background(), uuid.New(), CreateGenerationInput{Prompt: "a fox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gen.Size != "1024x1024" || gen.Quality != "standard" {
		t.Fatalf("defaults not applied: %q %q", gen.Size, gen.Quality)
	}
	if gen.Status != types.GenerationStatusPending {
		t.Fatalf("expected pending, got %q", gen.Status)
	}
	if !strings.Contains(string(gen.Metadata), `"enhance_prompt":true`) {
		t.Fatalf("enhance flag missing from metadata: %s", gen.Metadata)
	}
}

func TestCreateGeneration_QueuedEventDeferredToRequestScope(t *testing.T) {
	repo := newFakeGenerationRepo()
	svc := newTestGenerationService(t, repo)

	ctx := ssedata.WithSSEData(context.Background())
	if _, err := svc.CreateGeneration(ctx, uuid.New(), CreateGenerationInput{Prompt: "a fox"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	data := ssedata.GetSSEData(ctx)
	if data == nil || len(data.Messages) != 1 {
		t.Fatalf("expected 1 deferred event, got %+v", data)
	}
	if data.Messages[0].Event != sse.SSEEventGenerationQueued {
		t.Fatalf("unexpected event %q", data.Messages[0].Event)
	}
}

func TestCreateGeneration_RunInlineCreatesClaimed(t *testing.T) {
	repo := newFakeGenerationRepo()
	svc := newTestGenerationService(t, repo)

	gen, err := svc.CreateGeneration(context.Background(), uuid.New(), CreateGenerationInput{
		Prompt: "a fox", RunInline: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gen.Status != types.GenerationStatusProcessing || gen.Attempts != 1 {
		t.Fatalf("inline generation not claimed: status=%q attempts=%d", gen.Status, gen.Attempts)
	}
	if gen.LockedAt == nil || gen.HeartbeatAt == nil {
		t.Fatalf("inline generation missing lock fields")
	}
}

func TestCreateGeneration_RateLimited(t *testing.T) {
	repo := newFakeGenerationRepo()
	repo.countSince = 10
	svc := newTestGenerationService(t, repo)

	_, err := svc.CreateGeneration(context.Background(), uuid.New(), CreateGenerationInput{Prompt: "a fox"})
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rlErr.Limit != 10 {
		t.Fatalf("unexpected limit %d", rlErr.Limit)
	}
}

func TestGetGeneration_OwnershipHidesOtherUsers(t *testing.T) {
	repo := newFakeGenerationRepo()
	svc := newTestGenerationService(t, repo)

	owner := uuid.New()
	gen, err := svc.CreateGeneration(context.Background(), owner, CreateGenerationInput{Prompt: "a fox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.GetGeneration(context.Background(), uuid.New(), gen.ID)
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected not found for foreign user, got %v", err)
	}

	got, err := svc.GetGeneration(context.Background(), owner, gen.ID)
	if err != nil || got.ID != gen.ID {
		t.Fatalf("owner fetch failed: %v", err)
	}
}

func TestListGenerations_RejectsBogusStatus(t *testing.T) {
	svc := newTestGenerationService(t, newFakeGenerationRepo())
	_, err := svc.ListGenerations(context.Background(), uuid.New(), 1, 20, "archived")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusMessage_PerState(t *testing.T) {
	cases := []struct {
		status string
		want   string
	}{
		{types.GenerationStatusPending, "Waiting in queue..."},
		{types.GenerationStatusProcessing, "Starting generation..."},
		{types.GenerationStatusEnhancing, "Enhancing your prompt..."},
		{types.GenerationStatusGenerating, "Creating your image..."},
		{types.GenerationStatusUploading, "Finalizing..."},
		{types.GenerationStatusCompleted, "Complete!"},
	}
	for _, tc := range cases {
		got := StatusMessage(&types.Generation{Status: tc.status})
		if got != tc.want {
			t.Fatalf("status %q: got %q want %q", tc.status, got, tc.want)
		}
	}

	msg := "Image generation failed"
	got := StatusMessage(&types.Generation{Status: types.GenerationStatusFailed, ErrorMessage: &msg})
	if got != msg {
		t.Fatalf("failed status should surface the error message, got %q", got)
	}
	got = StatusMessage(&types.Generation{Status: types.GenerationStatusFailed})
	if got != "Generation failed" {
		t.Fatalf("failed status fallback: %q", got)
	}
}

func TestStorageKeysFromMetadata(t *testing.T) {
	imageKey, thumbKey := StorageKeysFromMetadata([]byte(`{"image_key":"a.png","thumbnail_key":"b.png","provider":"dalle"}`))
	if imageKey != "a.png" || thumbKey != "b.png" {
		t.Fatalf("got %q %q", imageKey, thumbKey)
	}
	imageKey, thumbKey = StorageKeysFromMetadata(nil)
	if imageKey != "" || thumbKey != "" {
		t.Fatalf("expected empty keys for nil metadata")
	}
	imageKey, _ = StorageKeysFromMetadata([]byte(`not json`))
	if imageKey != "" {
		t.Fatalf("expected empty keys for garbage metadata")
	}
}
