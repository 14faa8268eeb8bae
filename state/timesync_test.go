package state

import (
	"testing"
	"time"
)

func TestClockOffset(t *testing.T) {
	base := time.UnixMilli(0)
	// request takes 50ms, reply takes 60ms, remote clock runs 5ms behind
	t1 := base.Add(1000 * time.Millisecond)
	t2 := base.Add(1050 * time.Millisecond)
	t3 := base.Add(1060 * time.Millisecond)
	t4 := base.Add(1120 * time.Millisecond)
	if got := ClockOffset(t1, t2, t3, t4); got != -5*time.Millisecond {
		t.Errorf("Expected offset -5ms, got %v", got)
	}
}

func TestClockOffsetSymmetricPath(t *testing.T) {
	base := time.Now()
	// equal path delays cancel out exactly
	offset := 123 * time.Millisecond
	t1 := base
	t2 := base.Add(40 * time.Millisecond).Add(offset)
	t3 := t2.Add(time.Millisecond)
	t4 := base.Add(81 * time.Millisecond)
	if got := ClockOffset(t1, t2, t3, t4); got != offset {
		t.Errorf("Expected offset %v, got %v", offset, got)
	}
}

func TestReferenceBetter(t *testing.T) {
	cur := &TimeReference{Stratum: 2, Accuracy: 0.9, Reliability: 0.9}

	if !(&TimeReference{Stratum: 1, Accuracy: 0.1, Reliability: 0.1}).Better(cur) {
		t.Error("Expected lower stratum to win regardless of score")
	}
	if (&TimeReference{Stratum: 3, Accuracy: 1, Reliability: 1}).Better(cur) {
		t.Error("Expected higher stratum to lose regardless of score")
	}
	if !(&TimeReference{Stratum: 2, Accuracy: 0.95, Reliability: 0.9}).Better(cur) {
		t.Error("Expected same stratum with higher score to win")
	}
	if (&TimeReference{Stratum: 2, Accuracy: 0.9, Reliability: 0.9}).Better(cur) {
		t.Error("Expected equal reference to not replace current")
	}
	if !(&TimeReference{Stratum: 15}).Better(nil) {
		t.Error("Expected any reference to beat nil")
	}
}
