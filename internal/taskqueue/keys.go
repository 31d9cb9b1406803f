package taskqueue

import "math"

// Queue order is an ascending dense priority key per item. Inserts take the
// midpoint between neighbors so most moves rewrite a single key; when the
// midpoint collapses (hi-lo <= 1) or a key drifts near the int64 edge, the
// whole context queue is renumbered with fixed Gap spacing and the insert is
// retried against the fresh keys.
const (
	// Gap leaves room for about six midpoint insertions between any two
	// neighbors before a renumber is needed (log2(100) ~ 6).
	Gap int64 = 100

	// keyHeadroom bounds head/tail extension so maxKey+Gap can never overflow.
	keyHeadroom int64 = math.MaxInt64 / 4
)

// midpointKey returns the key halfway between lo and hi. ok is false when the
// integer space between the neighbors is exhausted.
func midpointKey(lo, hi int64) (int64, bool) {
	if hi-lo <= 1 {
		return 0, false
	}
	return lo + (hi-lo)/2, true
}

// keyForIndex computes the key an item would need to sit at position idx among
// keys (ascending, the moved item already excluded). ok is false when the
// queue needs renumbering first.
func keyForIndex(keys []int64, idx int) (int64, bool) {
	if len(keys) == 0 {
		return 0, true
	}
	if idx <= 0 {
		head := keys[0]
		if head < -keyHeadroom {
			return 0, false
		}
		return head - Gap, true
	}
	if idx >= len(keys) {
		tail := keys[len(keys)-1]
		if tail > keyHeadroom {
			return 0, false
		}
		return tail + Gap, true
	}
	return midpointKey(keys[idx-1], keys[idx])
}
