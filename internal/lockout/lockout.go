// Package lockout derives account-lock state from login-attempt history.
package lockout

import (
	"sort"
	"time"
)

// Attempt is the subset of a login attempt the policy needs.
type Attempt struct {
	Success     bool
	AttemptedAt time.Time
}

// Policy locks an account after MaxAttempts consecutive failures within
// Window, for Duration.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

// DefaultPolicy allows 5 consecutive failures in 30 minutes and locks for
// 30 minutes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Window:      30 * time.Minute,
		Duration:    30 * time.Minute,
	}
}

// Decision is the outcome of evaluating an attempt history.
type Decision struct {
	Failures    int
	Lock        bool
	LockedUntil time.Time
}

// IsLocked reports whether lockedUntil is set and still in the future.
// A lapsed lock needs no explicit unlock.
func IsLocked(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && now.Before(*lockedUntil)
}

// WindowStart returns the earliest attempt time that counts at now.
func (p Policy) WindowStart(now time.Time) time.Time {
	return now.Add(-p.Window)
}

// ConsecutiveFailures counts failures newer than the most recent success,
// ignoring attempts older than the window. Input order does not matter.
func (p Policy) ConsecutiveFailures(attempts []Attempt, now time.Time) int {
	since := p.WindowStart(now)

	recent := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.AttemptedAt.Before(since) || a.AttemptedAt.After(now) {
			continue
		}
		recent = append(recent, a)
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].AttemptedAt.After(recent[j].AttemptedAt)
	})

	failures := 0
	for _, a := range recent {
		if a.Success {
			break
		}
		failures++
	}
	return failures
}

// Evaluate decides whether the history, which must already include the
// latest failed attempt, warrants a lock.
func (p Policy) Evaluate(attempts []Attempt, now time.Time) Decision {
	d := Decision{Failures: p.ConsecutiveFailures(attempts, now)}
	if p.MaxAttempts > 0 && d.Failures >= p.MaxAttempts {
		d.Lock = true
		d.LockedUntil = now.Add(p.Duration)
	}
	return d
}
