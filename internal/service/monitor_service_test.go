package service

import "testing"

func TestProgressPercentRoundsToNearest(t *testing.T) {
	cases := []struct {
		answered int64
		total    int
		want     int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67}, // 66.67 rounds up, not truncates
		{3, 3, 100},
		{1, 8, 13},  // 12.5 rounds up
		{1, 6, 17},  // 16.67
		{5, 0, 0},   // no questions yet
		{7, 3, 100}, // stale autosaves clamp at 100
	}
	for _, tc := range cases {
		if got := progressPercent(tc.answered, tc.total); got != tc.want {
			t.Errorf("progressPercent(%d, %d) = %d, want %d", tc.answered, tc.total, got, tc.want)
		}
	}
}
