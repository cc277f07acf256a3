package infra

import (
	"testing"
	"time"
)

func TestDefaultBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := DefaultBackoff.Delay(tt.retryCount); got != tt.want {
			t.Errorf("DefaultBackoff.Delay(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestBackoff_CustomCap(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	if got := b.Delay(2); got != 40*time.Millisecond {
		t.Errorf("Delay(2) = %s", got)
	}
	if got := b.Delay(3); got != 50*time.Millisecond {
		t.Errorf("Delay(3) = %s; want cap", got)
	}
}
