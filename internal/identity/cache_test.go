package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, ttl), mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	p := Projection{ID: "id-1", Class: ClassUser, Email: "anna@acme.test", Role: "regular", CompanyID: "company-1"}
	if err := cache.Set(ctx, p); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := cache.Get(ctx, "id-1")
	if !ok {
		t.Fatal("expected a hit")
	}
	if got != p {
		t.Fatalf("projection changed in flight: %+v", got)
	}

	if _, ok := cache.Get(ctx, "id-2"); ok {
		t.Fatal("unknown id must miss")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.Set(ctx, Projection{ID: "id-1", Class: ClassAdmin}); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(61 * time.Second)
	if _, ok := cache.Get(ctx, "id-1"); ok {
		t.Fatal("projection must expire with the TTL")
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.Set(ctx, Projection{ID: "id-1", Class: ClassAdmin}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Invalidate(ctx, "id-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := cache.Get(ctx, "id-1"); ok {
		t.Fatal("invalidated projection must miss")
	}
}

func TestCacheNilSafe(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	if _, ok := cache.Get(ctx, "id-1"); ok {
		t.Fatal("nil cache must miss")
	}
	if err := cache.Set(ctx, Projection{ID: "id-1"}); err != nil {
		t.Fatalf("nil cache Set: %v", err)
	}
	if err := cache.Invalidate(ctx, "id-1"); err != nil {
		t.Fatalf("nil cache Invalidate: %v", err)
	}
}

func TestAuthenticateCacheFirst(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newTestCache(t, time.Minute)
	svc, err := NewService(env.store, env.issuer,
		WithClock(func() time.Time { return env.now }),
		WithCache(cache),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	seeded := env.seedIdentity(t, ClassUser, "anna@acme.test", "hunter2hunter2")

	// First read populates the cache through the store.
	if _, err := svc.Authenticate(ctx, seeded.ID); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// Out-of-band block: the cached projection stays authoritative for the
	// read path until the TTL elapses.
	if err := env.store.Identities(ctx).SetBlocked(ctx, seeded.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, seeded.ID); err != nil {
		t.Fatalf("stale cached read should still pass: %v", err)
	}

	// The aware mutation path invalidates, so the block becomes visible.
	if err := svc.SetBlocked(ctx, seeded.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, seeded.ID); !errors.Is(err, ErrBlocked) {
		t.Fatalf("got %v, want ErrBlocked after invalidation", err)
	}
}

func TestAuthenticateCompensatingBlockedCheck(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newTestCache(t, time.Minute)
	svc, err := NewService(env.store, env.issuer,
		WithClock(func() time.Time { return env.now }),
		WithCache(cache),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// A blocked flag inside the cached payload must be honored even though
	// the store is never consulted on a hit.
	if err := cache.Set(ctx, Projection{ID: "id-x", Class: ClassUser, Blocked: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, "id-x"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("got %v, want ErrBlocked from cached payload", err)
	}
}
