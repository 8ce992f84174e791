package globaltime

import (
	"testing"
	"time"
)

func TestSetMockTimeFreezesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	SetMockTime(fixed)
	defer ResetTime()

	if got := UTC(); !got.Equal(fixed) {
		t.Fatalf("unexpected now: got %v want %v", got, fixed)
	}
	if got := Since(fixed.Add(-time.Minute)); got != time.Minute {
		t.Fatalf("unexpected since: got %v want %v", got, time.Minute)
	}
}
