package valkey

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/valkey-io/valkey-go"

	"github.com/pario-ai/aigate/pkg/cache"
	"github.com/pario-ai/aigate/pkg/cache/cachetest"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{mr.Addr()},
		DisableCache:      true,
		ForceSingleClient: true,
	})
	if err != nil {
		t.Fatalf("valkey client create failed: %v", err)
	}
	b := NewWithClient(client, "test:")
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Backend { return newTestBackend(t) })
}

func newURLBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New("redis://" + mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestBackendFromURL(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Backend {
		b, _ := newURLBackend(t)
		return b
	})
}

func TestNewFromURL(t *testing.T) {
	b, mr := newURLBackend(t)

	c := cache.New(b)
	ctx := context.Background()
	key := cache.Fingerprint("hola", nil)
	if err := c.Set(ctx, key, "hashtags", []string{"#a", "#b"}, nil); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("aigate:{cache}:" + string(key)) {
		t.Error("expected entry hash under the default prefix")
	}
	ok, err := mr.SIsMember("aigate:{cache}:feature:hashtags", string(key))
	if err != nil || !ok {
		t.Errorf("expected key in feature index: ok=%v err=%v", ok, err)
	}
	for _, k := range mr.Keys() {
		if !strings.HasPrefix(k, "aigate:{cache}:") {
			t.Errorf("key %q is outside the shared hash tag", k)
		}
	}
	if _, err := c.Get(ctx, key, "hashtags"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if n, err := c.Invalidate(ctx, "hashtags", ""); err != nil || n != 1 {
		t.Fatalf("invalidate: n=%d err=%v", n, err)
	}
	if n, err := c.Invalidate(ctx, "", ""); err != nil || n != 0 {
		t.Fatalf("invalidate all: n=%d err=%v", n, err)
	}
}

func TestDeleteAllClearsIndexes(t *testing.T) {
	b, mr := newURLBackend(t)
	c := cache.New(b)
	ctx := context.Background()
	for i, f := range []string{"captions", "hashtags", "hashtags"} {
		if err := c.Set(ctx, cache.Fingerprint(fmt.Sprintf("p%d", i), nil), f, "x", nil); err != nil {
			t.Fatal(err)
		}
	}
	n, err := b.DeleteAll(ctx)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deleted, got n=%d err=%v", n, err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("expected no keys left, got %v", keys)
	}
}

func TestPutMovesFeatureIndex(t *testing.T) {
	b := newTestBackend(t)
	c := cache.New(b)
	ctx := context.Background()
	key := cache.Fingerprint("shared", nil)

	if err := c.Set(ctx, key, "captions", "x", nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, key, "hashtags", "y", nil); err != nil {
		t.Fatal(err)
	}
	if n, err := b.DeleteFeature(ctx, "captions"); err != nil || n != 0 {
		t.Fatalf("old feature should no longer index the key: n=%d err=%v", n, err)
	}
	if _, err := c.Get(ctx, key, "hashtags"); err != nil {
		t.Fatalf("expected entry to survive: %v", err)
	}
}
