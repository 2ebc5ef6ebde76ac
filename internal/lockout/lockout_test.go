package lockout

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func history(now time.Time, outcomes ...bool) []Attempt {
	out := make([]Attempt, len(outcomes))
	for i, ok := range outcomes {
		// oldest first, one minute apart, last one at now
		out[i] = Attempt{Success: ok, AttemptedAt: now.Add(-time.Duration(len(outcomes)-1-i) * time.Minute)}
	}
	return out
}

func TestIsLocked(t *testing.T) {
	future := base.Add(time.Minute)
	past := base.Add(-time.Minute)

	if IsLocked(nil, base) {
		t.Error("nil lock expiry must not be locked")
	}
	if !IsLocked(&future, base) {
		t.Error("future lock expiry must be locked")
	}
	if IsLocked(&past, base) {
		t.Error("lapsed lock must not be locked")
	}
	if IsLocked(&base, base) {
		t.Error("lock expiring exactly now must not be locked")
	}
}

func TestEvaluate_LocksOnFifthConsecutiveFailure(t *testing.T) {
	p := DefaultPolicy()

	d := p.Evaluate(history(base, false, false, false, false), base)
	if d.Lock {
		t.Fatalf("4 failures must not lock, got %+v", d)
	}

	d = p.Evaluate(history(base, false, false, false, false, false), base)
	if !d.Lock {
		t.Fatalf("5 failures must lock, got %+v", d)
	}
	if want := base.Add(30 * time.Minute); !d.LockedUntil.Equal(want) {
		t.Errorf("LockedUntil = %v, want %v", d.LockedUntil, want)
	}
}

func TestEvaluate_SuccessResetsCounter(t *testing.T) {
	p := DefaultPolicy()

	d := p.Evaluate(history(base, false, false, false, false, true, false), base)
	if d.Failures != 1 {
		t.Fatalf("expected 1 failure after reset, got %d", d.Failures)
	}
	if d.Lock {
		t.Fatal("must not lock after a success reset the counter")
	}
}

func TestEvaluate_IgnoresAttemptsOutsideWindow(t *testing.T) {
	p := DefaultPolicy()
	attempts := []Attempt{
		{Success: false, AttemptedAt: base.Add(-45 * time.Minute)},
		{Success: false, AttemptedAt: base.Add(-40 * time.Minute)},
		{Success: false, AttemptedAt: base.Add(-10 * time.Minute)},
		{Success: false, AttemptedAt: base.Add(-5 * time.Minute)},
		{Success: false, AttemptedAt: base},
	}
	d := p.Evaluate(attempts, base)
	if d.Failures != 3 {
		t.Fatalf("expected 3 failures within window, got %d", d.Failures)
	}
	if d.Lock {
		t.Fatal("must not lock on failures outside the window")
	}
}

func TestConsecutiveFailures_OrderIndependent(t *testing.T) {
	p := DefaultPolicy()
	attempts := history(base, false, true, false, false)
	reversed := make([]Attempt, len(attempts))
	for i, a := range attempts {
		reversed[len(attempts)-1-i] = a
	}
	if a, b := p.ConsecutiveFailures(attempts, base), p.ConsecutiveFailures(reversed, base); a != b || a != 2 {
		t.Fatalf("expected 2 for both orders, got %d and %d", a, b)
	}
}

func TestEvaluate_CustomThreshold(t *testing.T) {
	p := Policy{MaxAttempts: 3, Window: time.Hour, Duration: 10 * time.Minute}
	d := p.Evaluate(history(base, false, false, false), base)
	if !d.Lock {
		t.Fatal("expected lock at custom threshold")
	}
	if want := base.Add(10 * time.Minute); !d.LockedUntil.Equal(want) {
		t.Errorf("LockedUntil = %v, want %v", d.LockedUntil, want)
	}
}

func TestEvaluate_EmptyHistory(t *testing.T) {
	d := DefaultPolicy().Evaluate(nil, base)
	if d.Failures != 0 || d.Lock {
		t.Fatalf("unexpected decision %+v", d)
	}
}
