package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollDuration = 10 * time.Minute
)

// API is the slice of Client the tracker needs; tests substitute a stub.
type API interface {
	CreateGeneration(ctx context.Context, req GenerationRequest) (*Generation, error)
	GetGeneration(ctx context.Context, id uuid.UUID) (*Generation, error)
	GetGenerationStatus(ctx context.Context, id uuid.UUID) (*StatusUpdate, error)
}

type TrackerOptions struct {
	// PollInterval between status checks; DefaultPollInterval when zero.
	PollInterval time.Duration

	// MaxPollDuration bounds how long a single generation is polled before
	// the tracker gives up on it. DefaultMaxPollDuration when zero, a
	// negative value disables the bound.
	MaxPollDuration time.Duration

	// OnUpdate fires after every merged change, including the terminal one.
	OnUpdate func(gen Generation)

	// OnError fires when a poll fails; polling continues unless the
	// generation was dropped.
	OnError func(id uuid.UUID, err error)
}

// Tracker follows in-flight generations by polling their status until they
// reach a terminal state, keeping a local copy of each record.
type Tracker struct {
	api             API
	pollInterval    time.Duration
	maxPollDuration time.Duration
	onUpdate        func(Generation)
	onError         func(uuid.UUID, error)

	mu    sync.Mutex
	items map[uuid.UUID]*trackedItem
}

type trackedItem struct {
	gen    Generation
	cancel context.CancelFunc
	// epoch invalidates in-flight poll results after a stop/restart.
	epoch int
}

func NewTracker(api API, opts TrackerOptions) *Tracker {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	maxPollDuration := opts.MaxPollDuration
	if maxPollDuration == 0 {
		maxPollDuration = DefaultMaxPollDuration
	}
	if maxPollDuration < 0 {
		maxPollDuration = 0
	}
	return &Tracker{
		api:             api,
		pollInterval:    pollInterval,
		maxPollDuration: maxPollDuration,
		onUpdate:        opts.OnUpdate,
		onError:         opts.OnError,
		items:           make(map[uuid.UUID]*trackedItem),
	}
}

// Submit sends the request and starts polling the new generation.
func (t *Tracker) Submit(ctx context.Context, req GenerationRequest) (*Generation, error) {
	gen, err := t.api.CreateGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	t.Track(*gen)
	return gen, nil
}

// Track begins following an existing generation. Tracking the same ID again
// replaces the stored record and restarts polling.
func (t *Tracker) Track(gen Generation) {
	t.mu.Lock()
	if existing, ok := t.items[gen.ID]; ok && existing.cancel != nil {
		existing.cancel()
	}
	item := &trackedItem{gen: gen}
	if old, ok := t.items[gen.ID]; ok {
		item.epoch = old.epoch + 1
	}
	t.items[gen.ID] = item
	t.mu.Unlock()

	t.notify(gen)
	if !gen.IsTerminal() {
		t.StartPolling(gen.ID)
	}
}

// Get returns a copy of the tracked record.
func (t *Tracker) Get(id uuid.UUID) (Generation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok {
		return Generation{}, false
	}
	return item.gen, true
}

// List returns copies of every tracked record.
func (t *Tracker) List() []Generation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Generation, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, item.gen)
	}
	return out
}

// StartPolling launches the poll loop for a tracked generation. Only one
// poll loop runs at a time: starting a new ID abandons any other ID's loop,
// and its in-flight results are never applied. Calling it again for the same
// ID restarts the loop.
func (t *Tracker) StartPolling(id uuid.UUID) {
	t.mu.Lock()
	item, ok := t.items[id]
	if !ok || item.gen.IsTerminal() {
		t.mu.Unlock()
		return
	}
	for otherID, other := range t.items {
		if otherID == id || other.cancel == nil {
			continue
		}
		other.cancel()
		other.cancel = nil
		other.epoch++
	}
	if item.cancel != nil {
		item.cancel()
		item.epoch++
	}
	var loopCtx context.Context
	var cancel context.CancelFunc
	if t.maxPollDuration > 0 {
		loopCtx, cancel = context.WithTimeout(context.Background(), t.maxPollDuration)
	} else {
		loopCtx, cancel = context.WithCancel(context.Background())
	}
	item.cancel = cancel
	epoch := item.epoch
	t.mu.Unlock()

	go t.pollLoop(loopCtx, id, epoch)
}

func (t *Tracker) pollLoop(ctx context.Context, id uuid.UUID, epoch int) {
	// First check runs right away; the ticker paces the rest.
	done, err := t.pollOnce(ctx, id, epoch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if t.onError != nil {
			t.onError(id, err)
		}
	} else if done {
		return
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, err := t.pollOnce(ctx, id, epoch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if t.onError != nil {
					t.onError(id, err)
				}
				continue
			}
			if done {
				return
			}
		}
	}
}

// PollOnce runs a single status check outside the background loop.
func (t *Tracker) PollOnce(ctx context.Context, id uuid.UUID) (Generation, error) {
	t.mu.Lock()
	item, ok := t.items[id]
	if !ok {
		t.mu.Unlock()
		return Generation{}, &HTTPError{StatusCode: 404, Message: "generation not tracked"}
	}
	epoch := item.epoch
	t.mu.Unlock()

	if _, err := t.pollOnce(ctx, id, epoch); err != nil {
		return Generation{}, err
	}
	gen, _ := t.Get(id)
	return gen, nil
}

// pollOnce fetches status, merges it, and on a terminal transition swaps in
// the full server record. The epoch check drops results that raced a
// stop/restart.
func (t *Tracker) pollOnce(ctx context.Context, id uuid.UUID, epoch int) (bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, t.pollInterval*2+time.Second)
	defer cancel()

	update, err := t.api.GetGenerationStatus(pollCtx, id)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	item, ok := t.items[id]
	if !ok || item.epoch != epoch {
		t.mu.Unlock()
		return true, nil
	}
	merged, changed := MergeStatus(item.gen, *update)
	item.gen = merged
	terminal := merged.IsTerminal()
	t.mu.Unlock()

	if changed && !terminal {
		t.notify(merged)
	}
	if !terminal {
		return false, nil
	}

	// Completed: replace with the full record so callers get every field the
	// status payload omits. Failures already carry their error fields, so
	// they stop without the extra fetch.
	if merged.Status == StatusCompleted {
		full, err := t.api.GetGeneration(pollCtx, id)
		if err == nil && full.IsTerminal() {
			t.mu.Lock()
			if item, ok := t.items[id]; ok && item.epoch == epoch {
				item.gen = *full
				merged = *full
			}
			t.mu.Unlock()
		}
	}

	t.stop(id, epoch)
	t.notify(merged)
	return true, nil
}

func (t *Tracker) notify(gen Generation) {
	if t.onUpdate != nil {
		t.onUpdate(gen)
	}
}

func (t *Tracker) stop(id uuid.UUID, epoch int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok || item.epoch != epoch {
		return
	}
	if item.cancel != nil {
		item.cancel()
		item.cancel = nil
	}
	item.epoch++
}

// StopPolling halts the poll loop but keeps the record.
func (t *Tracker) StopPolling(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok {
		return
	}
	if item.cancel != nil {
		item.cancel()
		item.cancel = nil
	}
	item.epoch++
}

// Remove stops polling and forgets the record.
func (t *Tracker) Remove(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok {
		return
	}
	if item.cancel != nil {
		item.cancel()
	}
	delete(t.items, id)
}

// Clear stops every poll loop and drops all records.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, item := range t.items {
		if item.cancel != nil {
			item.cancel()
		}
		delete(t.items, id)
	}
}
