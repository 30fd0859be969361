package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/dreamcanvas-backend/internal/requestdata"
	"github.com/yungbote/dreamcanvas-backend/internal/services"
	"github.com/yungbote/dreamcanvas-backend/internal/types"
)

type fakeGenerationService struct {
	listedBy uuid.UUID
}

func (f *fakeGenerationService) CreateGeneration(ctx context.Context, userID uuid.UUID, input services.CreateGenerationInput) (*types.Generation, error) {
	return &types.Generation{ID: uuid.New(), UserID: userID, Status: types.GenerationStatusPending}, nil
}

func (f *fakeGenerationService) GetGeneration(ctx context.Context, userID, generationID uuid.UUID) (*types.Generation, error) {
	return &types.Generation{ID: generationID, UserID: userID, Status: types.GenerationStatusPending}, nil
}

func (f *fakeGenerationService) ListGenerations(ctx context.Context, userID uuid.UUID, page, pageSize int, status string) (*services.GenerationPage, error) {
	f.listedBy = userID
	return &services.GenerationPage{Items: []*types.Generation{}, Page: page, PageSize: pageSize}, nil
}

func (f *fakeGenerationService) DeleteGeneration(ctx context.Context, userID, generationID uuid.UUID) error {
	return nil
}

func testGinContext(t *testing.T, ctx context.Context) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/gallery", nil)
	c.Request = req.WithContext(ctx)
	return c, rec
}

func TestGenerationHandler_RejectsMissingRequestData(t *testing.T) {
	gh := NewGenerationHandler(&fakeGenerationService{}, nil)

	c, rec := testGinContext(t, context.Background())
	gh.Gallery(c)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without request data, got %d", rec.Code)
	}
}

func TestGenerationHandler_UsesAuthenticatedUser(t *testing.T) {
	svc := &fakeGenerationService{}
	gh := NewGenerationHandler(svc, nil)

	userID := uuid.New()
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
	c, rec := testGinContext(t, ctx)
	gh.Gallery(c)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.listedBy != userID {
		t.Fatalf("service saw user %s, want %s", svc.listedBy, userID)
	}
}

func TestSSEHandler_RejectsMissingRequestData(t *testing.T) {
	sh := NewSSEHandler(nil)

	c, rec := testGinContext(t, context.Background())
	sh.Stream(c)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without request data, got %d", rec.Code)
	}
}
