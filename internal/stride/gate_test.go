package stride

import (
	"testing"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

func TestShouldRun(t *testing.T) {
	tests := []struct {
		newCount, stride int
		want             bool
	}{
		{5, 5, true},
		{4, 5, false},
		{12, 5, true},
		{0, 5, false},
		{0, 0, false},
		{-3, 1, false},
		{1, 0, true},
		{1, -2, true},
	}
	for _, tt := range tests {
		if got := ShouldRun(tt.newCount, tt.stride); got != tt.want {
			t.Errorf("ShouldRun(%d, %d) = %v, want %v", tt.newCount, tt.stride, got, tt.want)
		}
	}
}

func TestNewSince(t *testing.T) {
	base := time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC)
	unit := func(id string, at time.Time, n int) interaction.RequestInteractions {
		return interaction.RequestInteractions{
			Request:      interaction.Request{ID: id, CreatedAt: at},
			Interactions: make([]interaction.Interaction, n),
		}
	}
	units := []interaction.RequestInteractions{
		unit("r1", base, 3),
		unit("r2", base.Add(time.Minute), 4),
		unit("r3", base.Add(time.Minute), 2),
		unit("r4", base.Add(2*time.Minute), 5),
	}

	if got := NewSince(units, time.Time{}, ""); got != 14 {
		t.Errorf("zero bookmark: got %d, want 14", got)
	}
	if got := NewSince(units, base.Add(time.Minute), "r2"); got != 7 {
		t.Errorf("tie broken by request id: got %d, want 7", got)
	}
	if got := NewSince(units, base.Add(2*time.Minute), "r4"); got != 0 {
		t.Errorf("fully processed: got %d, want 0", got)
	}
}
