package client

import (
	"testing"

	"github.com/google/uuid"
)

func strptr(s string) *string { return &s }

func TestMergeStatus_AdvancesStatusAndMessageFields(t *testing.T) {
	id := uuid.New()
	current := Generation{ID: id, Status: StatusPending}

	merged, changed := MergeStatus(current, StatusUpdate{
		ID:     id,
		Status: StatusGenerating,
	})
	if !changed {
		t.Fatalf("expected changed=true")
	}
	if merged.Status != StatusGenerating {
		t.Fatalf("expected status=generating got %q", merged.Status)
	}
	// input untouched
	if current.Status != StatusPending {
		t.Fatalf("input was mutated: %q", current.Status)
	}
}

func TestMergeStatus_DropsStaleEarlierState(t *testing.T) {
	id := uuid.New()
	current := Generation{ID: id, Status: StatusUploading}

	merged, changed := MergeStatus(current, StatusUpdate{
		ID:     id,
		Status: StatusEnhancing,
	})
	if changed {
		t.Fatalf("expected stale update to be dropped")
	}
	if merged.Status != StatusUploading {
		t.Fatalf("expected status unchanged, got %q", merged.Status)
	}
}

func TestMergeStatus_TerminalStateNeverChanges(t *testing.T) {
	id := uuid.New()
	for _, terminal := range []string{StatusCompleted, StatusFailed} {
		current := Generation{ID: id, Status: terminal}
		merged, changed := MergeStatus(current, StatusUpdate{
			ID:     id,
			Status: StatusGenerating,
		})
		if changed || merged.Status != terminal {
			t.Fatalf("terminal %q was modified to %q", terminal, merged.Status)
		}
	}
}

func TestMergeStatus_IgnoresMismatchedID(t *testing.T) {
	current := Generation{ID: uuid.New(), Status: StatusPending}
	_, changed := MergeStatus(current, StatusUpdate{
		ID:     uuid.New(),
		Status: StatusCompleted,
	})
	if changed {
		t.Fatalf("expected update for a different generation to be ignored")
	}
}

func TestMergeStatus_CompletionCarriesURLs(t *testing.T) {
	id := uuid.New()
	current := Generation{ID: id, Status: StatusUploading}

	merged, changed := MergeStatus(current, StatusUpdate{
		ID:           id,
		Status:       StatusCompleted,
		ImageURL:     strptr("https://cdn.example.com/full.png"),
		ThumbnailURL: strptr("https://cdn.example.com/thumb.png"),
	})
	if !changed {
		t.Fatalf("expected changed=true")
	}
	if merged.ImageURL == nil || *merged.ImageURL != "https://cdn.example.com/full.png" {
		t.Fatalf("image url not merged: %v", merged.ImageURL)
	}
	if merged.ThumbnailURL == nil || *merged.ThumbnailURL != "https://cdn.example.com/thumb.png" {
		t.Fatalf("thumbnail url not merged: %v", merged.ThumbnailURL)
	}
	if !merged.IsTerminal() {
		t.Fatalf("expected terminal after completion")
	}
}

func TestMergeStatus_FailureCarriesErrorFields(t *testing.T) {
	id := uuid.New()
	current := Generation{ID: id, Status: StatusGenerating}

	merged, changed := MergeStatus(current, StatusUpdate{
		ID:           id,
		Status:       StatusFailed,
		ErrorMessage: strptr("Image generation failed"),
		ErrorCode:    strptr("generation_failed"),
	})
	if !changed {
		t.Fatalf("expected changed=true")
	}
	if merged.ErrorMessage == nil || *merged.ErrorMessage != "Image generation failed" {
		t.Fatalf("error message not merged: %v", merged.ErrorMessage)
	}
	if merged.ErrorCode == nil || *merged.ErrorCode != "generation_failed" {
		t.Fatalf("error code not merged: %v", merged.ErrorCode)
	}
}

func TestMergeStatus_UnknownStatusKeepsRecord(t *testing.T) {
	id := uuid.New()
	current := Generation{ID: id, Status: StatusPending}
	merged, changed := MergeStatus(current, StatusUpdate{ID: id, Status: "archived"})
	if changed || merged.Status != StatusPending {
		t.Fatalf("unknown status should be ignored, got %q", merged.Status)
	}
}

func TestMergeStatus_SameStatusNoChange(t *testing.T) {
	id := uuid.New()
	current := Generation{ID: id, Status: StatusGenerating}
	_, changed := MergeStatus(current, StatusUpdate{ID: id, Status: StatusGenerating})
	if changed {
		t.Fatalf("identical update should report changed=false")
	}
}
