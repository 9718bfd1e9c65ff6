package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoaderCache_Get_miss_then_hit(t *testing.T) {
	loads := atomic.Int32{}

	c, err := NewLoaderCache[string, string](10, Identity)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	load := func(_ context.Context, key string) (string, error) {
		loads.Add(1)

		return "rec-" + key, nil
	}

	v, hit, err := c.GetWithStats(ctx, "a", load)
	if err != nil {
		t.Fatal(err)
	}

	if hit || v != "rec-a" {
		t.Errorf("first lookup: hit=%v v=%q", hit, v)
	}

	v, hit, err = c.GetWithStats(ctx, "a", load)
	if err != nil {
		t.Fatal(err)
	}

	if !hit || v != "rec-a" {
		t.Errorf("second lookup: hit=%v v=%q", hit, v)
	}

	if loads.Load() != 1 {
		t.Errorf("loads = %d, want 1", loads.Load())
	}
}

func TestLoaderCache_concurrent_misses_share_result(t *testing.T) {
	loads := atomic.Int32{}

	c, err := NewLoaderCache[int, int](10, func(k int) string { return string(rune('a' + k)) })
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	load := func(_ context.Context, k int) (int, error) {
		loads.Add(1)
		<-release

		return k * 10, nil
	}

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			v, err := c.Get(context.Background(), 4, load)
			if err != nil || v != 40 {
				t.Errorf("got %d, %v", v, err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n < 1 || n > 8 {
		t.Errorf("loads = %d, want between 1 and 8", n)
	}
}

func TestLoaderCache_Invalidate(t *testing.T) {
	c, err := NewLoaderCache[string, string](10, Identity)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	load := func(_ context.Context, key string) (string, error) { return "rec-" + key, nil }

	_, _ = c.Get(ctx, "a", load)
	_, _ = c.Get(ctx, "b", load)

	c.Invalidate("a")

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	if _, hit, _ := c.GetWithStats(ctx, "a", load); hit {
		t.Error("expected miss after Invalidate")
	}

	c.InvalidateAll()

	if c.Len() != 0 {
		t.Errorf("Len = %d after InvalidateAll", c.Len())
	}
}

func TestLoaderCache_Invalidate_during_load_is_not_cached(t *testing.T) {
	c, err := NewLoaderCache[string, string](10, Identity)
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(_ context.Context, key string) (string, error) {
		close(started)
		<-release

		return "old-" + key, nil
	}

	done := make(chan string, 1)

	go func() {
		v, _ := c.Get(context.Background(), "a", slow)
		done <- v
	}()

	<-started
	c.Invalidate("a")
	close(release)

	if v := <-done; v != "old-a" {
		t.Errorf("in-flight caller got %q, want old-a", v)
	}

	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after invalidated load", c.Len())
	}

	fresh := func(_ context.Context, key string) (string, error) { return "new-" + key, nil }

	v, hit, err := c.GetWithStats(context.Background(), "a", fresh)
	if err != nil {
		t.Fatal(err)
	}

	if hit || v != "new-a" {
		t.Errorf("after invalidated load: hit=%v v=%q", hit, v)
	}
}

func TestLoaderCache_load_error_not_cached(t *testing.T) {
	c, err := NewLoaderCache[string, string](10, Identity)
	if err != nil {
		t.Fatal(err)
	}

	loadErr := errors.New("store unavailable")

	_, err = c.Get(context.Background(), "a", func(context.Context, string) (string, error) {
		return "", loadErr
	})
	if !errors.Is(err, loadErr) {
		t.Errorf("got err %v", err)
	}

	if c.Len() != 0 {
		t.Error("failed load should not be cached")
	}
}

func TestLoaderCache_WithTTL_expires(t *testing.T) {
	c, err := NewLoaderCache[string, string](10, Identity, WithTTL(30*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	load := func(_ context.Context, key string) (string, error) { return key, nil }

	_, _ = c.Get(ctx, "a", load)

	if _, hit, _ := c.GetWithStats(ctx, "a", load); !hit {
		t.Error("expected hit before ttl")
	}

	time.Sleep(80 * time.Millisecond)

	if _, hit, _ := c.GetWithStats(ctx, "a", load); hit {
		t.Error("expected miss after ttl")
	}
}

func TestNewLoaderCache_rejects_non_positive_size(t *testing.T) {
	if _, err := NewLoaderCache[string, string](0, Identity); err == nil {
		t.Error("expected error for size 0")
	}
}
