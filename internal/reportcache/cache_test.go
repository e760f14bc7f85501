package reportcache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)

	payload := map[string]any{"totalEvents": 42, "name": "Scheduled Changes"}
	if _, err := c.Put("event_category_stats", "", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, err := c.Get("event_category_stats", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(entry.Payload, &got); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if got["totalEvents"] != float64(42) || got["name"] != "Scheduled Changes" {
		t.Errorf("payload changed across round trip: %v", got)
	}
}

func TestCache_MissWhenAbsent(t *testing.T) {
	c := newTestCache(t)

	if _, err := c.Get("nope", ""); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
	if _, err := c.GetFresh("nope", ""); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestCache_Subkeys(t *testing.T) {
	c := newTestCache(t)

	if _, err := c.Put("category_details", "issue", "a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Put("category_details", "investigation", "b"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, err := c.Get("category_details", "issue")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var s string
	if err := json.Unmarshal(entry.Payload, &s); err != nil || s != "a" {
		t.Errorf("expected subkey isolation, got %q err %v", s, err)
	}
}

func TestCache_TTLBoundary(t *testing.T) {
	c := newTestCache(t)

	storedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := storedAt
	c.WithClock(func() time.Time { return now })

	if _, err := c.PutTTL("critical_events", "", "report body", 1); err != nil {
		t.Fatalf("PutTTL: %v", err)
	}

	// One second before expiry: still served.
	now = storedAt.Add(time.Hour - time.Second)
	if _, err := c.GetFresh("critical_events", ""); err != nil {
		t.Errorf("expected fresh entry at T+1h-1s, got %v", err)
	}

	// One second past expiry: miss, but the file survives.
	now = storedAt.Add(time.Hour + time.Second)
	if _, err := c.GetFresh("critical_events", ""); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss at T+1h+1s, got %v", err)
	}
	if _, err := c.Get("critical_events", ""); err != nil {
		t.Errorf("stale entry should not be deleted on miss: %v", err)
	}
}

func TestCache_TTLCarriedForward(t *testing.T) {
	c := newTestCache(t)

	entry, err := c.PutTTL("critical_events_60", "", "v1", 6)
	if err != nil {
		t.Fatalf("PutTTL: %v", err)
	}
	if entry.TTLHours != 6 {
		t.Fatalf("expected first write to use the given TTL, got %v", entry.TTLHours)
	}

	// A refresh with the default TTL must keep the previously recorded 6h.
	entry, err = c.PutTTL("critical_events_60", "", "v2", 1)
	if err != nil {
		t.Fatalf("PutTTL: %v", err)
	}
	if entry.TTLHours != 6 {
		t.Errorf("expected TTL carried forward as 6, got %v", entry.TTLHours)
	}
}

func TestCache_InvalidateKinds(t *testing.T) {
	c := newTestCache(t)

	mustPut := func(kind, subkey string) {
		t.Helper()
		if _, err := c.Put(kind, subkey, "x"); err != nil {
			t.Fatalf("Put %s/%s: %v", kind, subkey, err)
		}
	}
	mustPut("event_category_stats", "")
	mustPut("category_details", "issue")
	mustPut("category_details", "investigation")
	mustPut("suggested_prompts", "") // unrelated kind, must survive

	if err := c.InvalidateKinds("event_category_stats", "category_details"); err != nil {
		t.Fatalf("InvalidateKinds: %v", err)
	}

	if _, err := c.Get("event_category_stats", ""); !errors.Is(err, ErrMiss) {
		t.Errorf("expected event_category_stats invalidated, got %v", err)
	}
	if _, err := c.Get("category_details", "issue"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected category_details/issue invalidated, got %v", err)
	}
	if _, err := c.Get("suggested_prompts", ""); err != nil {
		t.Errorf("unrelated kind must survive a targeted invalidation: %v", err)
	}
}

func TestCache_InvalidateMissingIsNoop(t *testing.T) {
	c := newTestCache(t)
	if err := c.Invalidate("ghost", ""); err != nil {
		t.Errorf("invalidating a missing entry should be a no-op, got %v", err)
	}
}
