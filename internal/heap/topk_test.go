package heap

import (
	"path/filepath"
	"testing"
)

func TestPushBelowCapacityKeepsEverything(t *testing.T) {
	h := New[string](5)
	h.Push("a", 1)
	h.Push("b", -2)
	h.Push("c", 3)

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	if h.Full() {
		t.Fatalf("Full() = true, want false")
	}
	if !h.Contains("b") || h.ValueFor("b") != -2 {
		t.Fatalf("ValueFor(b) = %v, want -2", h.ValueFor("b"))
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestHeapInvariantHoldsAfterFill(t *testing.T) {
	h := New[string](4)
	vals := map[string]float32{"a": 10, "b": -5, "c": 20, "d": 1}
	for k, v := range vals {
		h.Push(k, v)
	}
	if !h.Full() {
		t.Fatalf("Full() = false, want true")
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if h.Minimum() != 1 {
		t.Fatalf("Minimum() = %v, want 1", h.Minimum())
	}
}

func TestEvictsSmallestWhenExceedsThreshold(t *testing.T) {
	h := New[string](3)
	h.Push("a", 10)
	h.Push("b", 20)
	h.Push("c", 1) // minimum after fill

	min := h.Minimum()
	if min != 1 {
		t.Fatalf("Minimum() = %v, want 1", min)
	}

	h.Push("d", 100) // must exceed min*EPS to evict
	if h.Contains("c") {
		t.Fatalf("c should have been evicted")
	}
	if !h.Contains("d") {
		t.Fatalf("d should have been admitted")
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after eviction: %v", err)
	}
}

func TestEvictCallbackFiresWithOldKeyAndValue(t *testing.T) {
	var gotKey string
	var gotValue float32
	calls := 0
	h := New[string](1, WithEvictCallback(func(key string, value float32) {
		calls++
		gotKey = key
		gotValue = value
	}))
	h.Push("a", -7)
	if calls != 0 {
		t.Fatalf("callback fired before any eviction, calls=%d", calls)
	}
	evicted := h.Push("b", 100)
	if !evicted {
		t.Fatalf("Push() = false, want true")
	}
	if calls != 1 {
		t.Fatalf("callback fired %d times, want 1", calls)
	}
	if gotKey != "a" || gotValue != -7 {
		t.Fatalf("callback got (%q, %v), want (\"a\", -7)", gotKey, gotValue)
	}
}

func TestEPSHysteresisIgnoresSmallFluctuation(t *testing.T) {
	h := New[string](3)
	h.Push("a", 10)
	h.Push("b", 20)
	h.Push("c", 30)

	// A new candidate just barely above the minimum (10) but below
	// minimum*EPS should NOT be admitted.
	h.Push("d", 10.2)
	if h.Contains("d") {
		t.Fatalf("d should not have been admitted within EPS band of minimum")
	}

	// But an existing tracked key moving within the EPS band around its own
	// stored magnitude should still update its value without reheapifying
	// into an inconsistent state.
	h.Push("a", 10.3)
	if h.ValueFor("a") != 10.3 {
		t.Fatalf("ValueFor(a) = %v, want 10.3 (value always refreshed)", h.ValueFor("a"))
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after in-band update: %v", err)
	}
}

func TestRejectsCandidateBelowMinimumTimesEPS(t *testing.T) {
	h := New[string](2)
	h.Push("a", 100)
	h.Push("b", 50)

	h.Push("c", 51) // 51 < 50*1.05 = 52.5, should be rejected
	if h.Contains("c") {
		t.Fatalf("c should have been rejected: below minimum*EPS")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topk.txt")

	h := New[string](4)
	h.Push("alpha", 1.5)
	h.Push("bravo", -2.5)
	h.Push("charlie", 3.5)

	if err := Save(h, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh := New[string](4)
	if err := Load(fresh, path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if fresh.Len() != h.Len() {
		t.Fatalf("Len() after reload = %d, want %d", fresh.Len(), h.Len())
	}
	for _, k := range []string{"alpha", "bravo", "charlie"} {
		if fresh.ValueFor(k) != h.ValueFor(k) {
			t.Fatalf("ValueFor(%q) after reload = %v, want %v", k, fresh.ValueFor(k), h.ValueFor(k))
		}
	}
	if err := fresh.Check(); err != nil {
		t.Fatalf("Check after reload: %v", err)
	}
}

func TestMinimumZeroBeforeFull(t *testing.T) {
	h := New[string](10)
	h.Push("a", 999)
	if h.Minimum() != 0 {
		t.Fatalf("Minimum() before full = %v, want 0", h.Minimum())
	}
}
