package window

import (
	"iter"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

// Slide yields overlapping windows of whole request units, sized by
// interaction count. A unit is selected when its interaction span overlaps
// the cursor [start, start+size); units are never split, so a window may
// exceed size by at most one unit.
//
// The index counts cursor slots: index*effectiveStride is the cursor start.
// Sliding stops after the first window that contains the final unit, since
// every later slot would only repeat a subset of it.
//
// size <= 0, or a total that fits in one window, yields a single window at
// index 0. stride <= 0 advances by size (tumbling windows), as does a
// stride larger than size.
func Slide(units []interaction.RequestInteractions, size, stride int) iter.Seq2[int, []interaction.RequestInteractions] {
	return func(yield func(int, []interaction.RequestInteractions) bool) {
		if len(units) == 0 {
			return
		}
		if size <= 0 {
			yield(0, units)
			return
		}

		prefix := make([]int, len(units)+1)
		for i, u := range units {
			prefix[i+1] = prefix[i] + u.Len()
		}
		total := prefix[len(units)]
		if total <= size {
			yield(0, units)
			return
		}

		// A step wider than the window would leave interactions between
		// cursors uncovered.
		step := stride
		if step <= 0 || step > size {
			step = size
		}

		last := len(units) - 1
		for index, start := 0, 0; start < total; index, start = index+1, start+step {
			end := start + size
			lo, hi := -1, -1
			for i := range units {
				if overlaps(prefix[i], prefix[i+1], start, end) {
					if lo < 0 {
						lo = i
					}
					hi = i
				}
			}
			if lo < 0 {
				continue
			}
			if !yield(index, units[lo:hi+1]) {
				return
			}
			if hi == last {
				return
			}
		}
	}
}

// overlaps reports whether the unit span [a, b) intersects the cursor
// [start, end). A unit with no interactions sits at point a and is claimed by
// every cursor whose closed range contains it.
func overlaps(a, b, start, end int) bool {
	if a == b {
		return start <= a && a <= end
	}
	return a < end && b > start
}

// Collect materialises a window sequence in order.
func Collect(seq iter.Seq2[int, []interaction.RequestInteractions]) []Window {
	var out []Window
	for idx, units := range seq {
		out = append(out, Window{Index: idx, Units: units})
	}
	return out
}

// Window is one materialised window.
type Window struct {
	Index int
	Units []interaction.RequestInteractions
}

// Interactions returns the total interaction count of the window.
func (w Window) Interactions() int {
	return interaction.Count(w.Units)
}
