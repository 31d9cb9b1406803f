package taskqueue

import "testing"

func TestMidpointKey(t *testing.T) {
	key, ok := midpointKey(0, 100)
	if !ok {
		t.Fatalf("midpointKey(0, 100) ok = false, want true")
	}
	if key != 50 {
		t.Fatalf("midpointKey(0, 100) = %d, want 50", key)
	}

	if _, ok := midpointKey(10, 11); ok {
		t.Fatalf("midpointKey(10, 11) ok = true, want false (no integer midpoint)")
	}
	if _, ok := midpointKey(10, 10); ok {
		t.Fatalf("midpointKey(10, 10) ok = true, want false")
	}
}

func TestMidpointSurvivesSixInsertionsWithGap(t *testing.T) {
	// With Gap=100 at least six successive midpoint insertions between the
	// same two neighbors must fit before a renumber is required.
	lo, hi := int64(0), Gap
	for i := 0; i < 6; i++ {
		mid, ok := midpointKey(lo, hi)
		if !ok {
			t.Fatalf("insertion %d needed renumber, want at least 6 without", i+1)
		}
		if mid <= lo || mid >= hi {
			t.Fatalf("insertion %d midpoint %d outside (%d, %d)", i+1, mid, lo, hi)
		}
		hi = mid
	}
}

func TestKeyForIndex(t *testing.T) {
	keys := []int64{0, 100, 200}

	head, ok := keyForIndex(keys, 0)
	if !ok || head != -Gap {
		t.Fatalf("keyForIndex(head) = %d, %v, want %d, true", head, ok, -Gap)
	}
	tail, ok := keyForIndex(keys, 3)
	if !ok || tail != 200+Gap {
		t.Fatalf("keyForIndex(tail) = %d, %v, want %d, true", tail, ok, 200+Gap)
	}
	mid, ok := keyForIndex(keys, 1)
	if !ok || mid != 50 {
		t.Fatalf("keyForIndex(between) = %d, %v, want 50, true", mid, ok)
	}

	if got, ok := keyForIndex(nil, 0); !ok || got != 0 {
		t.Fatalf("keyForIndex(empty) = %d, %v, want 0, true", got, ok)
	}
}

func TestKeyForIndexExhaustedSpace(t *testing.T) {
	if _, ok := keyForIndex([]int64{7, 8}, 1); ok {
		t.Fatalf("keyForIndex between adjacent keys ok = true, want false")
	}
	if _, ok := keyForIndex([]int64{keyHeadroom + 1}, 1); ok {
		t.Fatalf("keyForIndex past headroom ok = true, want renumber signal")
	}
	if _, ok := keyForIndex([]int64{-keyHeadroom - 1}, 0); ok {
		t.Fatalf("keyForIndex below negative headroom ok = true, want renumber signal")
	}
}
