package utils

import (
	"testing"
	"time"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 500 * time.Millisecond
	max := 10 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt, base, max); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffDefaultsAndClamps(t *testing.T) {
	if got := Backoff(-1, time.Second, 0); got != time.Second {
		t.Fatalf("negative attempt should clamp to base, got %v", got)
	}
	if got := Backoff(0, 0, 0); got <= 0 {
		t.Fatalf("zero base should fall back to a positive default, got %v", got)
	}
}
