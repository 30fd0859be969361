package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/dreamcanvas-backend/internal/logger"
)

// ImageResult is the provider-neutral output of a generation call. Exactly
// one of ImageURL and ImageData is set depending on the provider.
type ImageResult struct {
	ImageURL      string
	ImageData     []byte
	RevisedPrompt string
	Metadata      map[string]any
}

type ImageGenClient interface {
	Generate(ctx context.Context, prompt, size, quality string) (*ImageResult, error)
	Provider() string
}

// NewImageGenClient picks the provider from IMAGE_PROVIDER ("dalle" or
// "stability", default "dalle").
func NewImageGenClient(log *logger.Logger) (ImageGenClient, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("IMAGE_PROVIDER")))
	if provider == "" {
		provider = "dalle"
	}
	switch provider {
	case "dalle":
		return newDalleClient(log)
	case "stability":
		return newStabilityClient(log)
	default:
		return nil, fmt.Errorf("unknown image provider %q", provider)
	}
}

type dalleClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func newDalleClient(log *logger.Logger) (*dalleClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := os.Getenv("DALLE_MODEL")
	if model == "" {
		model = "dall-e-3"
	}
	timeoutSec := 120
	if v := os.Getenv("IMAGE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	return &dalleClient{
		log:        log.With("service", "DalleClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

func (c *dalleClient) Provider() string { return "dalle" }

func (c *dalleClient) Generate(ctx context.Context, prompt, size, quality string) (*ImageResult, error) {
	reqBody := map[string]any{
		"model":   c.model,
		"prompt":  prompt,
		"size":    size,
		"quality": quality,
		"n":       1,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/images/generations", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &claudeHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed struct {
		Data []struct {
			URL           string `json:"url"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("dalle decode error: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("dalle returned no images")
	}

	return &ImageResult{
		ImageURL:      parsed.Data[0].URL,
		RevisedPrompt: parsed.Data[0].RevisedPrompt,
		Metadata: map[string]any{
			"provider": "dalle",
			"model":    c.model,
			"size":     size,
			"quality":  quality,
		},
	}, nil
}

type stabilityClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	engine     string
	httpClient *http.Client
}

func newStabilityClient(log *logger.Logger) (*stabilityClient, error) {
	apiKey := os.Getenv("STABILITY_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing STABILITY_API_KEY")
	}
	baseURL := os.Getenv("STABILITY_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.stability.ai"
	}
	engine := os.Getenv("STABILITY_ENGINE")
	if engine == "" {
		engine = "stable-diffusion-xl-1024-v1-0"
	}
	timeoutSec := 120
	if v := os.Getenv("IMAGE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	return &stabilityClient{
		log:        log.With("service", "StabilityClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		engine:     engine,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

func (c *stabilityClient) Provider() string { return "stability" }

func (c *stabilityClient) Generate(ctx context.Context, prompt, size, quality string) (*ImageResult, error) {
	width, height, err := parseSize(size)
	if err != nil {
		return nil, err
	}

	steps := 30
	if quality == "hd" {
		steps = 50
	}

	reqBody := map[string]any{
		"text_prompts": []map[string]any{{"text": prompt, "weight": 1}},
		"width":        width,
		"height":       height,
		"steps":        steps,
		"samples":      1,
		"cfg_scale":    7,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/v1/generation/%s/text-to-image", c.engine)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &claudeHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed struct {
		Artifacts []struct {
			Base64       string `json:"base64"`
			FinishReason string `json:"finishReason"`
		} `json:"artifacts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("stability decode error: %w", err)
	}
	if len(parsed.Artifacts) == 0 {
		return nil, fmt.Errorf("stability returned no artifacts")
	}
	if parsed.Artifacts[0].FinishReason == "CONTENT_FILTERED" {
		return nil, fmt.Errorf("stability content filtered")
	}

	data, err := base64.StdEncoding.DecodeString(parsed.Artifacts[0].Base64)
	if err != nil {
		return nil, fmt.Errorf("stability base64 decode error: %w", err)
	}

	return &ImageResult{
		ImageData: data,
		Metadata: map[string]any{
			"provider": "stability",
			"engine":   c.engine,
			"size":     size,
			"quality":  quality,
			"steps":    steps,
		},
	}, nil
}

func parseSize(size string) (int, int, error) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid size %q", size)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q", size)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q", size)
	}
	return w, h, nil
}
