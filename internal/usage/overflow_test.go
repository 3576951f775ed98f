package usage

import "testing"

func TestIsOverflow(t *testing.T) {
	tests := []struct {
		name         string
		input        int64
		cacheRead    int64
		output       int64
		contextLimit int64
		outputLimit  int64
		want         bool
	}{
		// usable = 200000 - 32000 = 168000
		{"over usable", 190_000, 0, 0, 200_000, 0, true},
		{"well under", 100_000, 0, 0, 200_000, 0, false},
		{"exactly usable", 168_000, 0, 0, 200_000, 0, false},
		{"one past usable", 168_001, 0, 0, 200_000, 0, true},
		{"cache read counts", 160_000, 10_000, 0, 200_000, 0, true},
		{"output counts", 160_000, 0, 10_000, 200_000, 0, true},
		{"unknown limit unconstrained", 10_000_000, 0, 0, 0, 0, false},
		// Model output limit below the default shrinks the reservation.
		{"small output limit", 190_000, 0, 0, 200_000, 8192, false},
		{"small output limit over", 191_809, 0, 0, 200_000, 8192, true},
		// Model output limit above the default is capped at the default.
		{"large output limit capped", 169_000, 0, 0, 200_000, 100_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsOverflow(tt.input, tt.cacheRead, tt.output, tt.contextLimit, tt.outputLimit)
			if got != tt.want {
				t.Errorf("IsOverflow(%d, %d, %d, %d, %d) = %v, want %v",
					tt.input, tt.cacheRead, tt.output, tt.contextLimit, tt.outputLimit, got, tt.want)
			}
		})
	}
}
