package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/pario-ai/aigate/pkg/models"
)

// memBackend is an in-process Backend for exercising Cache logic.
type memBackend struct {
	mu      sync.Mutex
	entries map[models.Fingerprint]models.CacheEntry
}

func newMemBackend() *memBackend {
	return &memBackend{entries: make(map[models.Fingerprint]models.CacheEntry)}
}

func (m *memBackend) Load(_ context.Context, key models.Fingerprint) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return &e, nil
}

func (m *memBackend) Hit(_ context.Context, key models.Fingerprint, createdAt time.Time) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !e.CreatedAt.Equal(createdAt) {
		return 0, false, nil
	}
	e.Hits++
	m.entries[key] = e
	return e.Hits, true, nil
}

func (m *memBackend) Put(_ context.Context, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entry
	e.Hits = 0
	m.entries[entry.Key] = e
	return nil
}

func (m *memBackend) Expire(_ context.Context, key models.Fingerprint, createdAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !e.CreatedAt.Equal(createdAt) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *memBackend) DeleteKey(_ context.Context, key models.Fingerprint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return 0, nil
	}
	delete(m.entries, key)
	return 1, nil
}

func (m *memBackend) DeleteFeature(_ context.Context, feature string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if e.Feature == feature {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *memBackend) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.entries))
	m.entries = make(map[models.Fingerprint]models.CacheEntry)
	return n, nil
}

func (m *memBackend) List(_ context.Context) ([]models.CacheEntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CacheEntryInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, models.CacheEntryInfo{Key: e.Key, Feature: e.Feature, CreatedAt: e.CreatedAt, Hits: e.Hits})
	}
	return out, nil
}

func (m *memBackend) Close() error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(newMemBackend(),
		WithClock(clock.Now),
		WithTTLs(24*time.Hour, map[string]time.Duration{"trends": time.Hour}),
	)
	return c, clock
}

func TestFingerprintDeterministic(t *testing.T) {
	opts := models.Options{models.NewOption("tone", "fun"), models.NewOption("n", 3)}
	a := Fingerprint("  Cocina Saludable ", opts)
	b := Fingerprint("cocina saludable", opts)
	if a != b {
		t.Errorf("expected normalized prompts to match: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintOptionsMatter(t *testing.T) {
	base := Fingerprint("hello", nil)
	withOpt := Fingerprint("hello", models.Options{models.NewOption("lang", "es")})
	if base == withOpt {
		t.Error("options should change the fingerprint")
	}

	ab := Fingerprint("hello", models.Options{models.NewOption("a", 1), models.NewOption("b", 2)})
	ba := Fingerprint("hello", models.Options{models.NewOption("b", 2), models.NewOption("a", 1)})
	if ab == ba {
		t.Error("option order is part of the canonical form")
	}
}

func TestFingerprintKeepsPromptOption(t *testing.T) {
	x := Fingerprint("hola", models.Options{models.NewOption("prompt", "x")})
	y := Fingerprint("hola", models.Options{models.NewOption("prompt", "y")})
	bare := Fingerprint("hola", nil)
	if x == y {
		t.Error("different prompt options must produce different fingerprints")
	}
	if x == bare || y == bare {
		t.Error("a prompt option must change the fingerprint")
	}
}

func TestFingerprintCompactsValues(t *testing.T) {
	var spaced, tight models.Options
	if err := json.Unmarshal([]byte(`{"style": { "a" : [1, 2] }}`), &spaced); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"style":{"a":[1,2]}}`), &tight); err != nil {
		t.Fatal(err)
	}
	if Fingerprint("x", spaced) != Fingerprint("x", tight) {
		t.Error("whitespace in option values should not change the fingerprint")
	}
}

func TestFingerprintUniqueness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seen := make(map[models.Fingerprint]string)
	for i := 0; i < 500; i++ {
		n := rng.Intn(4) + 1
		opts := make(models.Options, 0, n)
		for j := 0; j < n; j++ {
			opts = append(opts, models.NewOption(fmt.Sprintf("k%d", j), rng.Int63()))
		}
		raw, _ := json.Marshal(opts)
		fp := Fingerprint("same prompt", opts)
		if prev, ok := seen[fp]; ok && prev != string(raw) {
			t.Fatalf("collision between %s and %s", prev, raw)
		}
		seen[fp] = string(raw)
	}
}

func TestFingerprintRequestMessages(t *testing.T) {
	a := FingerprintRequest(&models.Request{Feature: "captions", Messages: []models.Message{{Role: "user", Content: "one"}}})
	b := FingerprintRequest(&models.Request{Feature: "captions", Messages: []models.Message{{Role: "user", Content: "two"}}})
	if a == b {
		t.Error("message-only requests with different content must not collide")
	}
	plain := FingerprintRequest(&models.Request{Feature: "captions", Prompt: "hi"})
	if plain != Fingerprint("hi", nil) {
		t.Error("requests without messages should fingerprint like the bare prompt")
	}
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("hola", nil)

	if _, err := c.Get(ctx, key, "captions"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := c.Set(ctx, key, "captions", map[string]string{"content": "hi"}, map[string]string{"provider": "a"}); err != nil {
		t.Fatal(err)
	}

	for want := uint64(1); want <= 3; want++ {
		entry, err := c.Get(ctx, key, "captions")
		if err != nil {
			t.Fatal(err)
		}
		if entry.Hits != want {
			t.Errorf("expected %d hits, got %d", want, entry.Hits)
		}
		if string(entry.Response) != `{"content":"hi"}` {
			t.Errorf("unexpected payload: %s", entry.Response)
		}
	}

	if err := c.Set(ctx, key, "captions", "again", nil); err != nil {
		t.Fatal(err)
	}
	entry, err := c.Get(ctx, key, "captions")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Hits != 1 {
		t.Errorf("overwrite should reset hits, got %d", entry.Hits)
	}
}

func TestTTLBoundary(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("trending now", nil)

	if err := c.Set(ctx, key, "trends", "x", nil); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour - time.Millisecond)
	if _, err := c.Get(ctx, key, "trends"); err != nil {
		t.Fatalf("expected hit just before TTL, got %v", err)
	}
	clock.Advance(2 * time.Millisecond)
	if _, err := c.Get(ctx, key, "trends"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss just after TTL, got %v", err)
	}
	if stats, _ := c.Stats(ctx); stats.TotalEntries != 0 {
		t.Errorf("expired entry should have been deleted on read, got %d entries", stats.TotalEntries)
	}
}

func TestTTLUsesRequestedFeature(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("shared", nil)

	if err := c.Set(ctx, key, "captions", "x", nil); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := c.Get(ctx, key, "captions"); err != nil {
		t.Fatalf("captions TTL is 24h, expected hit: %v", err)
	}
	if _, err := c.Get(ctx, key, "trends"); !errors.Is(err, ErrMiss) {
		t.Fatalf("trends TTL is 1h, expected miss: %v", err)
	}
}

func TestConcurrentHits(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("popular", nil)
	if err := c.Set(ctx, key, "captions", "x", nil); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx, key, "captions"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalHits != n {
		t.Errorf("expected %d hits, got %d", n, stats.TotalHits)
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	k1 := Fingerprint("one", nil)
	k2 := Fingerprint("two", nil)
	k3 := Fingerprint("three", nil)
	for _, e := range []struct {
		key     models.Fingerprint
		feature string
	}{{k1, "captions"}, {k2, "captions"}, {k3, "hashtags"}} {
		if err := c.Set(ctx, e.key, e.feature, "x", nil); err != nil {
			t.Fatal(err)
		}
	}

	if n, err := c.Invalidate(ctx, "", k1); err != nil || n != 1 {
		t.Fatalf("key invalidate: n=%d err=%v", n, err)
	}
	if n, err := c.Invalidate(ctx, "captions", ""); err != nil || n != 1 {
		t.Fatalf("feature invalidate: n=%d err=%v", n, err)
	}
	if _, err := c.Get(ctx, k3, "hashtags"); err != nil {
		t.Fatalf("other feature should survive: %v", err)
	}
	if n, err := c.Invalidate(ctx, "", ""); err != nil || n != 1 {
		t.Fatalf("full invalidate: n=%d err=%v", n, err)
	}
}

func TestSweepAndStats(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, Fingerprint("a", nil), "trends", "x", nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, Fingerprint("b", nil), "captions", "x", nil); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 2 || stats.ByFeature["trends"].ExpiredCount != 1 || stats.ByFeature["captions"].ExpiredCount != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	n, err := c.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	c, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(c, time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
