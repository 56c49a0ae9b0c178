package stride

import (
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

// ShouldRun reports whether enough new interactions have accumulated. It is a
// threshold, not an exact multiple: bursty or missed triggers run once the
// backlog reaches stride.
func ShouldRun(newCount, stride int) bool {
	if newCount <= 0 {
		return false
	}
	if stride <= 0 {
		return true
	}
	return newCount >= stride
}

// NewSince counts interactions in units whose request sorts strictly after
// the (since, sinceRequestID) position. A zero since counts everything.
func NewSince(units []interaction.RequestInteractions, since time.Time, sinceRequestID string) int {
	n := 0
	for _, u := range units {
		if since.IsZero() || interaction.After(u.Request, since, sinceRequestID) {
			n += u.Len()
		}
	}
	return n
}
