package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// stubAPI walks a generation through a scripted sequence of statuses, one
// step per status call.
type stubAPI struct {
	mu       sync.Mutex
	gen      Generation
	script   []StatusUpdate
	cursor   int
	statusN  int
	createN  int
	fullN    int
	fullResp *Generation
	// statusErrEvery makes every Nth status call fail.
	statusErrEvery int
}

func (s *stubAPI) CreateGeneration(ctx context.Context, req GenerationRequest) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createN++
	gen := s.gen
	return &gen, nil
}

func (s *stubAPI) GetGeneration(ctx context.Context, id uuid.UUID) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullN++
	if s.fullResp != nil {
		gen := *s.fullResp
		return &gen, nil
	}
	gen := s.gen
	return &gen, nil
}

func (s *stubAPI) GetGenerationStatus(ctx context.Context, id uuid.UUID) (*StatusUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusN++
	if s.statusErrEvery > 0 && s.statusN%s.statusErrEvery == 0 {
		return nil, ErrNetworkUnreachable
	}
	update := s.script[s.cursor]
	if s.cursor < len(s.script)-1 {
		s.cursor++
	}
	return &update, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestTracker_SubmitPollsToCompletion(t *testing.T) {
	id := uuid.New()
	img := "https://cdn.example.com/img.png"
	api := &stubAPI{
		gen: Generation{ID: id, Status: StatusPending, OriginalPrompt: "a fox"},
		script: []StatusUpdate{
			{ID: id, Status: StatusProcessing},
			{ID: id, Status: StatusEnhancing},
			{ID: id, Status: StatusGenerating},
			{ID: id, Status: StatusCompleted, ImageURL: &img},
		},
		fullResp: &Generation{
			ID:             id,
			Status:         StatusCompleted,
			OriginalPrompt: "a fox",
			EnhancedPrompt: strptr("a red fox at dusk"),
			ImageURL:       &img,
		},
	}

	var mu sync.Mutex
	var seen []string
	tracker := NewTracker(api, TrackerOptions{
		PollInterval: 10 * time.Millisecond,
		OnUpdate: func(gen Generation) {
			mu.Lock()
			seen = append(seen, gen.Status)
			mu.Unlock()
		},
	})
	defer tracker.Clear()

	gen, err := tracker.Submit(context.Background(), GenerationRequest{Prompt: "a fox"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gen.Status != StatusPending {
		t.Fatalf("expected pending, got %q", gen.Status)
	}

	waitFor(t, 2*time.Second, func() bool {
		g, ok := tracker.Get(id)
		return ok && g.IsTerminal()
	})

	final, _ := tracker.Get(id)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", final.Status)
	}
	// Terminal poll swaps in the full record.
	if final.EnhancedPrompt == nil || *final.EnhancedPrompt != "a red fox at dusk" {
		t.Fatalf("expected full record after completion, got %+v", final)
	}

	api.mu.Lock()
	fullN := api.fullN
	api.mu.Unlock()
	if fullN != 1 {
		t.Fatalf("expected exactly one full-record fetch, got %d", fullN)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != StatusCompleted {
		t.Fatalf("expected final callback with completed, got %v", seen)
	}
	// Statuses only move forward in the callback stream.
	last := -1
	for _, s := range seen {
		r := statusRank(s)
		if r < last {
			t.Fatalf("status went backwards in %v", seen)
		}
		last = r
	}
}

func TestTracker_PollingStopsAfterTerminal(t *testing.T) {
	id := uuid.New()
	api := &stubAPI{
		gen: Generation{ID: id, Status: StatusPending},
		script: []StatusUpdate{
			{ID: id, Status: StatusFailed, ErrorMessage: strptr("boom"), ErrorCode: strptr("generation_failed")},
		},
	}
	tracker := NewTracker(api, TrackerOptions{PollInterval: 10 * time.Millisecond})
	defer tracker.Clear()

	tracker.Track(api.gen)
	waitFor(t, 2*time.Second, func() bool {
		g, ok := tracker.Get(id)
		return ok && g.IsTerminal()
	})

	api.mu.Lock()
	after := api.statusN
	api.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	api.mu.Lock()
	later := api.statusN
	api.mu.Unlock()
	if later != after {
		t.Fatalf("polling continued after terminal state: %d -> %d", after, later)
	}

	g, _ := tracker.Get(id)
	if g.ErrorMessage == nil || *g.ErrorMessage != "boom" {
		t.Fatalf("expected failure details, got %+v", g)
	}

	// Failure carries its own error fields; no full-record fetch happens.
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.fullN != 0 {
		t.Fatalf("expected no full-record fetch after failure, got %d", api.fullN)
	}
}

func TestTracker_FirstPollIsImmediate(t *testing.T) {
	id := uuid.New()
	api := &stubAPI{
		gen:    Generation{ID: id, Status: StatusPending},
		script: []StatusUpdate{{ID: id, Status: StatusProcessing}},
	}
	tracker := NewTracker(api, TrackerOptions{PollInterval: 500 * time.Millisecond})
	defer tracker.Clear()

	tracker.Track(api.gen)

	// A status call lands well before the first tick.
	waitFor(t, 200*time.Millisecond, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.statusN > 0
	})
}

func TestTracker_StopPollingHaltsLoop(t *testing.T) {
	id := uuid.New()
	api := &stubAPI{
		gen:    Generation{ID: id, Status: StatusPending},
		script: []StatusUpdate{{ID: id, Status: StatusProcessing}},
	}
	tracker := NewTracker(api, TrackerOptions{PollInterval: 10 * time.Millisecond})
	defer tracker.Clear()

	tracker.Track(api.gen)
	waitFor(t, 2*time.Second, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.statusN > 0
	})

	tracker.StopPolling(id)
	time.Sleep(50 * time.Millisecond)

	api.mu.Lock()
	after := api.statusN
	api.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	api.mu.Lock()
	later := api.statusN
	api.mu.Unlock()
	if later != after {
		t.Fatalf("polling continued after StopPolling: %d -> %d", after, later)
	}

	if _, ok := tracker.Get(id); !ok {
		t.Fatalf("record should survive StopPolling")
	}
}

func TestTracker_ClearDropsEverything(t *testing.T) {
	id := uuid.New()
	api := &stubAPI{
		gen:    Generation{ID: id, Status: StatusPending},
		script: []StatusUpdate{{ID: id, Status: StatusProcessing}},
	}
	tracker := NewTracker(api, TrackerOptions{PollInterval: 10 * time.Millisecond})

	tracker.Track(api.gen)
	tracker.Clear()

	if got := tracker.List(); len(got) != 0 {
		t.Fatalf("expected empty tracker, got %d items", len(got))
	}
}

func TestTracker_TrackTerminalDoesNotPoll(t *testing.T) {
	id := uuid.New()
	api := &stubAPI{
		gen:    Generation{ID: id, Status: StatusCompleted},
		script: []StatusUpdate{{ID: id, Status: StatusCompleted}},
	}
	tracker := NewTracker(api, TrackerOptions{PollInterval: 10 * time.Millisecond})
	defer tracker.Clear()

	tracker.Track(api.gen)
	time.Sleep(80 * time.Millisecond)

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.statusN != 0 {
		t.Fatalf("terminal generation should not be polled, saw %d status calls", api.statusN)
	}
}

func TestTracker_PollErrorsAreSwallowed(t *testing.T) {
	id := uuid.New()
	api := &stubAPI{
		gen: Generation{ID: id, Status: StatusProcessing},
		script: []StatusUpdate{
			{ID: id, Status: StatusGenerating},
			{ID: id, Status: StatusCompleted},
		},
		statusErrEvery: 2,
	}

	var errN int32
	tracker := NewTracker(api, TrackerOptions{
		PollInterval: 10 * time.Millisecond,
		OnError: func(uuid.UUID, error) {
			atomic.AddInt32(&errN, 1)
		},
	})
	defer tracker.Clear()

	tracker.Track(api.gen)
	waitFor(t, 2*time.Second, func() bool {
		g, ok := tracker.Get(id)
		return ok && g.IsTerminal()
	})

	// Failed polls surfaced through OnError but never blocked completion.
	if atomic.LoadInt32(&errN) == 0 {
		t.Fatalf("expected at least one poll error")
	}
	g, _ := tracker.Get(id)
	if g.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", g.Status)
	}
}

// switchStub serves any id, always non-terminal, counting status calls per id.
type switchStub struct {
	mu         sync.Mutex
	statusByID map[uuid.UUID]int
}

func (s *switchStub) CreateGeneration(ctx context.Context, req GenerationRequest) (*Generation, error) {
	return &Generation{ID: uuid.New(), Status: StatusPending}, nil
}

func (s *switchStub) GetGeneration(ctx context.Context, id uuid.UUID) (*Generation, error) {
	return &Generation{ID: id, Status: StatusProcessing}, nil
}

func (s *switchStub) GetGenerationStatus(ctx context.Context, id uuid.UUID) (*StatusUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusByID == nil {
		s.statusByID = make(map[uuid.UUID]int)
	}
	s.statusByID[id]++
	return &StatusUpdate{ID: id, Status: StatusProcessing}, nil
}

func (s *switchStub) count(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusByID[id]
}

func TestTracker_SwitchingIDsAbandonsOldPoll(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()
	api := &switchStub{}
	tracker := NewTracker(api, TrackerOptions{PollInterval: 10 * time.Millisecond})
	defer tracker.Clear()

	tracker.Track(Generation{ID: idA, Status: StatusPending})
	waitFor(t, 2*time.Second, func() bool { return api.count(idA) > 0 })

	tracker.Track(Generation{ID: idB, Status: StatusPending})
	time.Sleep(50 * time.Millisecond)

	frozenA := api.count(idA)
	time.Sleep(100 * time.Millisecond)
	if got := api.count(idA); got != frozenA {
		t.Fatalf("old id still polled after switch: %d -> %d", frozenA, got)
	}
	if api.count(idB) == 0 {
		t.Fatalf("new id never polled")
	}
	// The old record stays readable; only its poll loop stops.
	if _, ok := tracker.Get(idA); !ok {
		t.Fatalf("old record dropped on switch")
	}
}

func TestTracker_MaxPollDurationBoundsLoop(t *testing.T) {
	id := uuid.New()
	api := &stubAPI{
		gen:    Generation{ID: id, Status: StatusPending},
		script: []StatusUpdate{{ID: id, Status: StatusProcessing}},
	}
	tracker := NewTracker(api, TrackerOptions{
		PollInterval:    10 * time.Millisecond,
		MaxPollDuration: 60 * time.Millisecond,
	})
	defer tracker.Clear()

	tracker.Track(api.gen)
	time.Sleep(200 * time.Millisecond)

	api.mu.Lock()
	after := api.statusN
	api.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	api.mu.Lock()
	later := api.statusN
	api.mu.Unlock()
	if later != after {
		t.Fatalf("polling survived MaxPollDuration: %d -> %d", after, later)
	}
}
