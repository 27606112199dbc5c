package warmer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/fetch"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/pkg/cache"
)

type fakeRegistry map[string][]sources.Source

func (r fakeRegistry) Modes() []string {
	return []string{"statistics", "trends"}
}

func (r fakeRegistry) SourcesForMode(mode string) []sources.Source { return r[mode] }

type fakeFetcher struct {
	mu    sync.Mutex
	calls []int
	fatal map[int]error
}

func (f *fakeFetcher) Refresh(ctx context.Context, srcs []sources.Source) *fetch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, len(srcs))
	res := &fetch.Result{}
	for _, s := range srcs {
		res.PerSource = append(res.PerSource, fetch.SourceResult{Source: s, Status: fetch.StatusSuccess})
	}
	if err := f.fatal[len(srcs)]; err != nil {
		res.Fatal = []error{err}
	}
	return res
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testRegistry() fakeRegistry {
	return fakeRegistry{
		"statistics": {{Name: "ONS"}, {Name: "BLS"}},
		"trends":     {{Name: "Trends"}},
	}
}

func TestWarmAll(t *testing.T) {
	f := &fakeFetcher{}
	if err := WarmAll(context.Background(), testRegistry(), f, nil); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 2 || f.calls[0] != 2 || f.calls[1] != 1 {
		t.Fatalf("expected one fetch per mode in order, got %v", f.calls)
	}
}

func TestWarmAll_FatalErrorsReported(t *testing.T) {
	quota := errors.New("quota exceeded")
	f := &fakeFetcher{fatal: map[int]error{1: quota}}
	err := WarmAll(context.Background(), testRegistry(), f, nil)
	if !errors.Is(err, quota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if len(f.calls) != 2 {
		t.Fatal("a failing mode should not stop the others")
	}
}

func TestWarmAll_RefetchesCachedSources(t *testing.T) {
	store := cache.NewMemoryStore()
	var calls atomic.Int32
	adapter := sources.AdapterFunc(func(ctx context.Context, src sources.Source) ([]sources.Candidate, error) {
		n := calls.Add(1)
		return []sources.Candidate{{Title: fmt.Sprintf("%s edition %d", src.Name, n)}}, nil
	})
	o := fetch.New(adapter, fetch.Config{CacheTTL: time.Hour}, fetch.WithCache(store))
	reg := fakeRegistry{"statistics": {{Name: "ONS", Type: sources.TypeFeed, URL: "https://ons.example/feed"}}}
	ctx := context.Background()

	for run := 1; run <= 2; run++ {
		if err := WarmAll(ctx, reg, o, nil); err != nil {
			t.Fatal(err)
		}
		if n := calls.Load(); n != int32(run) {
			t.Fatalf("run %d: expected %d adapter calls, got %d", run, run, n)
		}
	}

	res := o.Fetch(ctx, reg["statistics"])
	if calls.Load() != 2 {
		t.Fatal("a cached fetch should not call the adapter")
	}
	got := res.PerSource[0]
	if !got.Cached || len(got.Candidates) != 1 || got.Candidates[0].Title != "ONS edition 2" {
		t.Fatalf("expected the second warm-up to replace the cached entry, got %+v", got)
	}
}

type purgingStore struct {
	*cache.MemoryStore
	purged atomic.Int32
	err    error
}

func (p *purgingStore) Purge(ctx context.Context) (int, error) {
	p.purged.Add(1)
	return 3, p.err
}

func TestNew_PurgesWhenCacheSupportsIt(t *testing.T) {
	store := &purgingStore{MemoryStore: cache.NewMemoryStore()}
	f := &fakeFetcher{}
	if err := New(testRegistry(), f, store, nil).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.purged.Load() != 1 || f.count() != 2 {
		t.Fatalf("expected warm-up and one purge, got %d fetches / %d purges", f.count(), store.purged.Load())
	}

	store.err = errors.New("disk full")
	err := New(testRegistry(), f, store, nil).RunOnce(context.Background())
	if !errors.Is(err, store.err) {
		t.Fatalf("expected purge failure to be reported, got %v", err)
	}
}

func TestNew_WithoutCacheSkipsPurge(t *testing.T) {
	s := New(testRegistry(), &fakeFetcher{}, nil, nil)
	if len(s.jobs) != 1 || s.jobs[0].Name != "warm_sources" {
		t.Fatalf("expected only the warm-up job, got %+v", s.jobs)
	}
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	s := NewScheduler(nil)
	boom := errors.New("boom")
	var ran []string
	s.Add(Job{Name: "a", Fn: func(ctx context.Context) error { ran = append(ran, "a"); return boom }})
	s.Add(Job{Name: "b", Fn: func(ctx context.Context) error { ran = append(ran, "b"); return nil }})

	err := s.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("expected both jobs to run, got %v", ran)
	}
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	f := &fakeFetcher{}
	s := New(testRegistry(), f, nil, nil)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background(), time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.count() != 2 {
		t.Fatalf("expected an immediate warm-up of both modes, got %d fetches", f.count())
	}

	s.Stop()
	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(nil)
	done := make(chan struct{})
	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler ignored context cancellation")
	}
}
