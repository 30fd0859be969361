package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeBucket struct {
	mu      sync.Mutex
	uploads map[string][]byte
	deletes []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{uploads: make(map[string][]byte)}
}

func (b *fakeBucket) UploadFile(ctx context.Context, key, contentType string, file io.Reader) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads[key] = data
	return nil
}

func (b *fakeBucket) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads[key], nil
}

func (b *fakeBucket) DeleteFile(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, key)
	return nil
}

func (b *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestMakeThumbnail_ScalesDownLongSide(t *testing.T) {
	data := testPNG(t, 1024, 512)
	thumb, err := MakeThumbnail(data, 256)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 256 || b.Dy() != 128 {
		t.Fatalf("expected 256x128, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestMakeThumbnail_KeepsSmallImages(t *testing.T) {
	data := testPNG(t, 100, 80)
	thumb, err := MakeThumbnail(data, 256)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 100 || b.Dy() != 80 {
		t.Fatalf("small image was resized to %dx%d", b.Dx(), b.Dy())
	}
}

func TestMakeThumbnail_RejectsGarbage(t *testing.T) {
	if _, err := MakeThumbnail([]byte("not an image"), 256); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestImageStorageService_UploadImageStoresFullAndThumb(t *testing.T) {
	bucket := newFakeBucket()
	svc := NewImageStorageService(testLogger(t), bucket)

	userID := uuid.New()
	genID := uuid.New()
	stored, err := svc.UploadImage(context.Background(), userID, genID, testPNG(t, 512, 512))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if stored.ImageKey == "" || stored.ThumbnailKey == "" {
		t.Fatalf("missing keys: %+v", stored)
	}
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if len(bucket.uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(bucket.uploads))
	}
	if _, ok := bucket.uploads[stored.ImageKey]; !ok {
		t.Fatalf("full image not uploaded under %q", stored.ImageKey)
	}
	if _, ok := bucket.uploads[stored.ThumbnailKey]; !ok {
		t.Fatalf("thumbnail not uploaded under %q", stored.ThumbnailKey)
	}
	if stored.ImageURL != "https://cdn.example.com/"+stored.ImageKey {
		t.Fatalf("public url mismatch: %q", stored.ImageURL)
	}
}

func TestImageStorageService_UploadImageSurvivesBadThumbnailSource(t *testing.T) {
	bucket := newFakeBucket()
	svc := NewImageStorageService(testLogger(t), bucket)

	// Not decodable: thumbnail is skipped, full upload still happens.
	stored, err := svc.UploadImage(context.Background(), uuid.New(), uuid.New(), []byte("opaque-blob"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if stored.ThumbnailKey != "" || stored.ThumbnailURL != "" {
		t.Fatalf("expected no thumbnail, got %+v", stored)
	}
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if len(bucket.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(bucket.uploads))
	}
}

func TestImageStorageService_DeleteImageRemovesBothObjects(t *testing.T) {
	bucket := newFakeBucket()
	svc := NewImageStorageService(testLogger(t), bucket)

	if err := svc.DeleteImage(context.Background(), "a.png", "a_thumb.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if len(bucket.deletes) != 2 {
		t.Fatalf("expected 2 deletes, got %v", bucket.deletes)
	}
}
