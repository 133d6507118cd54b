package location

import (
	"testing"
	"time"
)

func TestPositionCacheEvictsLeastRecentOwner(t *testing.T) {
	now := time.Date(2024, time.March, 9, 21, 30, 0, 0, time.UTC)
	cache := newPositionCache(time.Minute, 2, func() time.Time { return now })

	cache.Store("owner-1", Position{Latitude: 1, Longitude: 1})
	cache.Store("owner-2", Position{Latitude: 2, Longitude: 2})
	if _, ok := cache.Get("owner-1"); !ok {
		t.Fatalf("expected owner-1 to be cached")
	}
	cache.Store("owner-3", Position{Latitude: 3, Longitude: 3})

	if _, ok := cache.Get("owner-2"); ok {
		t.Fatalf("expected owner-2 to be evicted")
	}
	if _, ok := cache.Get("owner-1"); !ok {
		t.Fatalf("expected owner-1 to survive eviction")
	}
	if position, ok := cache.Get("owner-3"); !ok || position.Latitude != 3 {
		t.Fatalf("unexpected owner-3 entry: %+v ok=%v", position, ok)
	}
}

func TestPositionCacheCopiesAccuracy(t *testing.T) {
	now := time.Date(2024, time.March, 9, 21, 30, 0, 0, time.UTC)
	cache := newPositionCache(time.Minute, 0, func() time.Time { return now })

	accuracy := 12.5
	cache.Store("owner-1", Position{Latitude: 1, Longitude: 1, Accuracy: &accuracy})
	accuracy = 99

	position, ok := cache.Get("owner-1")
	if !ok {
		t.Fatalf("expected cached position")
	}
	if position.Accuracy == nil || *position.Accuracy != 12.5 {
		t.Fatalf("cached accuracy changed with caller: %v", position.Accuracy)
	}
}

func TestPositionCacheDisabled(t *testing.T) {
	cache := newPositionCache(0, 10, nil)
	if cache != nil {
		t.Fatalf("expected nil cache for zero ttl")
	}
	cache.Store("owner-1", Position{Latitude: 1, Longitude: 1})
	if _, ok := cache.Get("owner-1"); ok {
		t.Fatalf("disabled cache returned a hit")
	}
	cache.Invalidate("owner-1")
}
