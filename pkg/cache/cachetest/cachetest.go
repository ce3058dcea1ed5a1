// Package cachetest holds conformance tests shared by cache backends.
package cachetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/aigate/pkg/cache"
	"github.com/pario-ai/aigate/pkg/models"
)

// Run exercises a Backend produced by newBackend. Each subtest gets a fresh backend.
func Run(t *testing.T, newBackend func(t *testing.T) cache.Backend) {
	t.Run("LoadMissing", func(t *testing.T) {
		b := newBackend(t)
		if _, err := b.Load(context.Background(), "nope"); !errors.Is(err, cache.ErrMiss) {
			t.Fatalf("expected ErrMiss, got %v", err)
		}
	})

	t.Run("PutLoadRoundTrip", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
		in := &models.CacheEntry{
			Key:       "k1",
			Feature:   "captions",
			Response:  []byte(`{"content":"hola"}`),
			CreatedAt: created,
			Metadata:  map[string]string{"provider": "primary"},
		}
		if err := b.Put(ctx, in); err != nil {
			t.Fatal(err)
		}
		out, err := b.Load(ctx, "k1")
		if err != nil {
			t.Fatal(err)
		}
		if out.Feature != "captions" || string(out.Response) != `{"content":"hola"}` {
			t.Errorf("unexpected entry: %+v", out)
		}
		if !out.CreatedAt.Equal(created) {
			t.Errorf("created_at not preserved: %v != %v", out.CreatedAt, created)
		}
		if out.Metadata["provider"] != "primary" {
			t.Errorf("metadata not preserved: %v", out.Metadata)
		}
		if out.Hits != 0 {
			t.Errorf("expected 0 hits, got %d", out.Hits)
		}
	})

	t.Run("HitRequiresMatchingCreatedAt", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		if err := b.Put(ctx, &models.CacheEntry{Key: "k", Feature: "f", Response: []byte(`1`), CreatedAt: created}); err != nil {
			t.Fatal(err)
		}
		if _, ok, err := b.Hit(ctx, "k", created.Add(time.Second)); err != nil || ok {
			t.Fatalf("stale createdAt should not hit: ok=%v err=%v", ok, err)
		}
		hits, ok, err := b.Hit(ctx, "k", created)
		if err != nil || !ok || hits != 1 {
			t.Fatalf("expected first hit, got hits=%d ok=%v err=%v", hits, ok, err)
		}
		if _, ok, err := b.Hit(ctx, "missing", created); err != nil || ok {
			t.Fatalf("missing key should not hit: ok=%v err=%v", ok, err)
		}
	})

	t.Run("PutResetsHits", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		entry := &models.CacheEntry{Key: "k", Feature: "f", Response: []byte(`1`), CreatedAt: created}
		if err := b.Put(ctx, entry); err != nil {
			t.Fatal(err)
		}
		if _, _, err := b.Hit(ctx, "k", created); err != nil {
			t.Fatal(err)
		}
		entry.CreatedAt = created.Add(time.Minute)
		if err := b.Put(ctx, entry); err != nil {
			t.Fatal(err)
		}
		out, err := b.Load(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if out.Hits != 0 || !out.CreatedAt.Equal(entry.CreatedAt) {
			t.Errorf("expected reset entry, got %+v", out)
		}
	})

	t.Run("ConditionalExpire", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		if err := b.Put(ctx, &models.CacheEntry{Key: "k", Feature: "f", Response: []byte(`1`), CreatedAt: created}); err != nil {
			t.Fatal(err)
		}
		if ok, err := b.Expire(ctx, "k", created.Add(-time.Hour)); err != nil || ok {
			t.Fatalf("expire with old createdAt must keep the fresh entry: ok=%v err=%v", ok, err)
		}
		if ok, err := b.Expire(ctx, "k", created); err != nil || !ok {
			t.Fatalf("expected expire: ok=%v err=%v", ok, err)
		}
		if _, err := b.Load(ctx, "k"); !errors.Is(err, cache.ErrMiss) {
			t.Fatalf("expected miss after expire, got %v", err)
		}
	})

	t.Run("Deletes", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for _, e := range []struct {
			key     models.Fingerprint
			feature string
		}{{"a", "captions"}, {"b", "captions"}, {"c", "hashtags"}, {"d", "trends"}} {
			if err := b.Put(ctx, &models.CacheEntry{Key: e.key, Feature: e.feature, Response: []byte(`1`), CreatedAt: now}); err != nil {
				t.Fatal(err)
			}
		}

		if n, err := b.DeleteKey(ctx, "c"); err != nil || n != 1 {
			t.Fatalf("DeleteKey: n=%d err=%v", n, err)
		}
		if n, err := b.DeleteKey(ctx, "c"); err != nil || n != 0 {
			t.Fatalf("second DeleteKey: n=%d err=%v", n, err)
		}
		if n, err := b.DeleteFeature(ctx, "captions"); err != nil || n != 2 {
			t.Fatalf("DeleteFeature: n=%d err=%v", n, err)
		}
		infos, err := b.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(infos) != 1 || infos[0].Key != "d" {
			t.Fatalf("unexpected remaining entries: %+v", infos)
		}
		if n, err := b.DeleteAll(ctx); err != nil || n != 1 {
			t.Fatalf("DeleteAll: n=%d err=%v", n, err)
		}
	})

	t.Run("ConcurrentHits", func(t *testing.T) {
		b := newBackend(t)
		c := cache.New(b)
		ctx := context.Background()
		key := cache.Fingerprint("cocina saludable", nil)
		if err := c.Set(ctx, key, "captions", "hi", nil); err != nil {
			t.Fatal(err)
		}

		const n = 40
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

		entry, err := b.Load(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Hits != n {
			t.Errorf("expected %d hits, got %d", n, entry.Hits)
		}
	})
}
