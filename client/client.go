package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenStore holds the token pair between requests. Implementations must be
// safe for concurrent use.
type TokenStore interface {
	Tokens() (access, refresh string)
	SetTokens(access, refresh string)
	Clear()
}

type MemoryTokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Tokens() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.refresh
}

func (s *MemoryTokenStore) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
}

func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
}

type Options struct {
	BaseURL string

	// Tokens defaults to an in-memory store.
	Tokens TokenStore

	// Timeout applies to every call except generation submission; 30s when
	// zero.
	Timeout time.Duration

	// GenerateTimeout applies to synchronous generation submission; 120s
	// when zero.
	GenerateTimeout time.Duration

	HTTPClient *http.Client

	// OnLogout fires when the stored refresh token is rejected and the
	// session cannot be recovered. The token store is already cleared when
	// it runs.
	OnLogout func()
}

type Client struct {
	baseURL         string
	tokens          TokenStore
	timeout         time.Duration
	generateTimeout time.Duration
	httpClient      *http.Client
	onLogout        func()

	// Single-flight token refresh: the first 401 starts a refresh, every
	// other request that hits 401 meanwhile waits on refreshCh and retries
	// with the new token.
	refreshMu     sync.Mutex
	refreshCh     chan struct{}
	refreshResult error
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	generateTimeout := opts.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = 120 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:         baseURL,
		tokens:          tokens,
		timeout:         timeout,
		generateTimeout: generateTimeout,
		httpClient:      hc,
		onLogout:        opts.OnLogout,
	}, nil
}

func (c *Client) BaseURL() string    { return c.baseURL }
func (c *Client) Tokens() TokenStore { return c.tokens }

// ---- Auth ----

func (c *Client) Register(ctx context.Context, email, password, displayName string) (*AuthResponse, error) {
	body := map[string]string{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}
	var resp AuthResponse
	if err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/v1/auth/register", body, &resp, false); err != nil {
		return nil, err
	}
	c.tokens.SetTokens(resp.AccessToken, resp.RefreshToken)
	return &resp, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp AuthResponse
	if err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/v1/auth/login", body, &resp, false); err != nil {
		return nil, err
	}
	c.tokens.SetTokens(resp.AccessToken, resp.RefreshToken)
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/v1/auth/logout", nil, nil, true)
	// Local tokens are cleared regardless: even if the server call failed,
	// the session is over from the caller's point of view.
	c.tokens.Clear()
	return err
}

// Refresh forces a token rotation using the stored refresh token. Callers
// rarely need this: authenticated requests refresh transparently on 401.
func (c *Client) Refresh(ctx context.Context) error {
	access, _ := c.tokens.Tokens()
	return c.refreshTokens(ctx, access)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/v1/auth/me", nil, &user, true); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) UpdateMe(ctx context.Context, req UpdateProfileRequest) (*User, error) {
	var user User
	if err := c.doJSON(ctx, c.timeout, http.MethodPatch, "/api/v1/auth/me", req, &user, true); err != nil {
		return nil, err
	}
	return &user, nil
}

// ---- Generations ----

func (c *Client) CreateGeneration(ctx context.Context, req GenerationRequest) (*Generation, error) {
	var gen Generation
	if err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/v1/generate", req, &gen, true); err != nil {
		return nil, err
	}
	return &gen, nil
}

// CreateGenerationSync submits with ?sync=true and blocks until the server
// finishes the pipeline, so it uses the long timeout.
func (c *Client) CreateGenerationSync(ctx context.Context, req GenerationRequest) (*Generation, error) {
	var gen Generation
	if err := c.doJSON(ctx, c.generateTimeout, http.MethodPost, "/api/v1/generate?sync=true", req, &gen, true); err != nil {
		return nil, err
	}
	return &gen, nil
}

func (c *Client) GetGeneration(ctx context.Context, id uuid.UUID) (*Generation, error) {
	var gen Generation
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/v1/generate/"+id.String(), nil, &gen, true); err != nil {
		return nil, err
	}
	return &gen, nil
}

func (c *Client) GetGenerationStatus(ctx context.Context, id uuid.UUID) (*StatusUpdate, error) {
	var update StatusUpdate
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/v1/generate/"+id.String()+"/status", nil, &update, true); err != nil {
		return nil, err
	}
	return &update, nil
}

func (c *Client) DeleteGeneration(ctx context.Context, id uuid.UUID) error {
	return c.doJSON(ctx, c.timeout, http.MethodDelete, "/api/v1/generate/"+id.String(), nil, nil, true)
}

func (c *Client) ListGallery(ctx context.Context, page, pageSize int, status string) (*GalleryPage, error) {
	path := "/api/v1/gallery?page=" + strconv.Itoa(page) + "&page_size=" + strconv.Itoa(pageSize)
	if status != "" {
		path += "&status=" + status
	}
	var result GalleryPage
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, path, nil, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// ---- Chat ----

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/v1/chat", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) EnhancePrompt(ctx context.Context, req EnhanceRequest) (*EnhanceResponse, error) {
	var resp EnhanceResponse
	if err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/v1/chat/enhance", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------- HTTP helpers ----------------

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method, path string, body, out any, authed bool) error {
	var payload []byte
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		payload = buf.Bytes()
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	usedAccess, _ := c.tokens.Tokens()
	err := c.doOnce(ctx2, method, path, payload, out, authed)
	if authed && IsUnauthorized(err) {
		// A failed refresh is the caller's error: the stale 401 would only
		// mask why the session could not be recovered.
		if rErr := c.refreshTokens(ctx2, usedAccess); rErr != nil {
			return rErr
		}
		return c.doOnce(ctx2, method, path, payload, out, authed)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any, authed bool) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		access, _ := c.tokens.Tokens()
		if access == "" {
			return ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseHTTPError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// refreshTokens exchanges the stored refresh token for a new pair. Only one
// refresh runs at a time; concurrent callers wait for its outcome. A caller
// whose 401 raced an already-finished refresh sees the rotated token and
// skips straight to the retry.
func (c *Client) refreshTokens(ctx context.Context, failedAccess string) error {
	c.refreshMu.Lock()
	if current, _ := c.tokens.Tokens(); current != "" && current != failedAccess {
		c.refreshMu.Unlock()
		return nil
	}
	if ch := c.refreshCh; ch != nil {
		c.refreshMu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		c.refreshMu.Lock()
		result := c.refreshResult
		c.refreshMu.Unlock()
		return result
	}
	ch := make(chan struct{})
	c.refreshCh = ch
	c.refreshMu.Unlock()

	err := c.doRefresh(ctx)

	c.refreshMu.Lock()
	c.refreshResult = err
	c.refreshCh = nil
	close(ch)
	c.refreshMu.Unlock()
	return err
}

func (c *Client) doRefresh(ctx context.Context) error {
	_, refresh := c.tokens.Tokens()
	if refresh == "" {
		// No way back into the session without a refresh token.
		c.tokens.Clear()
		if c.onLogout != nil {
			c.onLogout()
		}
		return ErrNotAuthenticated
	}

	body := map[string]string{"refresh_token": refresh}
	var resp AuthResponse
	if err := c.doOnceNoAuthRetry(ctx, http.MethodPost, "/api/v1/auth/refresh", body, &resp); err != nil {
		if IsUnauthorized(err) {
			// The refresh token itself is dead; the session is over.
			c.tokens.Clear()
			if c.onLogout != nil {
				c.onLogout()
			}
		}
		return err
	}
	c.tokens.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

func (c *Client) doOnceNoAuthRetry(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		payload = buf.Bytes()
	}
	return c.doOnce(ctx, method, path, payload, out, false)
}
