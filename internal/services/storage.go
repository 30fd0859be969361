package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/dreamcanvas-backend/internal/logger"
)

const thumbnailMaxDim = 256

// StoredImage holds the public URLs plus the bucket keys needed for later
// cleanup when the generation is deleted.
type StoredImage struct {
	ImageURL     string
	ThumbnailURL string
	ImageKey     string
	ThumbnailKey string
}

type ImageStorageService interface {
	UploadImage(ctx context.Context, userID, generationID uuid.UUID, data []byte) (*StoredImage, error)
	UploadFromURL(ctx context.Context, userID, generationID uuid.UUID, srcURL string) (*StoredImage, error)
	DeleteImage(ctx context.Context, imageKey, thumbnailKey string) error
}

type imageStorageService struct {
	log        *logger.Logger
	bucket     BucketService
	httpClient *http.Client
}

func NewImageStorageService(log *logger.Logger, bucket BucketService) ImageStorageService {
	return &imageStorageService{
		log:        log.With("service", "ImageStorageService"),
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *imageStorageService) UploadImage(ctx context.Context, userID, generationID uuid.UUID, data []byte) (*StoredImage, error) {
	thumb, err := MakeThumbnail(data, thumbnailMaxDim)
	if err != nil {
		// A missing thumbnail never fails the generation.
		s.log.Warn("Failed to build thumbnail, uploading full image only", "generation_id", generationID, "error", err.Error())
		thumb = nil
	}

	imageKey := fmt.Sprintf("generations/%s/%s.png", userID, generationID)
	thumbKey := fmt.Sprintf("generations/%s/%s_thumb.png", userID, generationID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bucket.UploadFile(gctx, imageKey, "image/png", bytes.NewReader(data))
	})
	if thumb != nil {
		g.Go(func() error {
			return s.bucket.UploadFile(gctx, thumbKey, "image/png", bytes.NewReader(thumb))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	stored := &StoredImage{
		ImageURL: s.bucket.GetPublicURL(imageKey),
		ImageKey: imageKey,
	}
	if thumb != nil {
		stored.ThumbnailURL = s.bucket.GetPublicURL(thumbKey)
		stored.ThumbnailKey = thumbKey
	}
	return stored, nil
}

func (s *imageStorageService) UploadFromURL(ctx context.Context, userID, generationID uuid.UUID, srcURL string) (*StoredImage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", srcURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download provider image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider image download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider image: %w", err)
	}
	return s.UploadImage(ctx, userID, generationID, data)
}

func (s *imageStorageService) DeleteImage(ctx context.Context, imageKey, thumbnailKey string) error {
	var firstErr error
	if imageKey != "" {
		if err := s.bucket.DeleteFile(ctx, imageKey); err != nil {
			firstErr = err
		}
	}
	if thumbnailKey != "" {
		if err := s.bucket.DeleteFile(ctx, thumbnailKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MakeThumbnail scales the image down so its longer side is maxDim pixels
// and re-encodes it as PNG. Images already within bounds are re-encoded
// as-is.
func MakeThumbnail(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty image")
	}

	tw, th := w, h
	if w > maxDim || h > maxDim {
		if w >= h {
			tw = maxDim
			th = h * maxDim / w
		} else {
			th = maxDim
			tw = w * maxDim / h
		}
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}
