package policy

import (
	"sync"
	"time"
)

const (
	maxRateLimiterKeys  = 10000
	denialsBeforeBackoff = 2
	backoffBaseSeconds   = 5
	backoffCapSeconds    = 600
)

// denialState tracks one tool name's consecutive-denial count and the
// backoff window it is currently serving, if any.
type denialState struct {
	denialCount   int
	lastDenial    time.Time
	backoffUntil  time.Time
}

// RateLimiter gates repeated prompts for a tool name that keeps getting
// denied: the first two denials are free, the third and later denials
// impose an exponentially growing backoff (capped at 10 minutes) during
// which Check reports OutcomeRateLimited without ever reaching a prompt.
// Any approval resets the tool's state entirely.
type RateLimiter struct {
	mu    sync.Mutex
	state map[string]*denialState
}

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{state: make(map[string]*denialState)}
}

// IsBackedOff reports whether toolName is currently within a backoff
// window from prior denials.
func (l *RateLimiter) IsBackedOff(toolName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.state[toolName]
	if !ok {
		return false
	}
	return time.Now().Before(s.backoffUntil)
}

// RecordDenial registers a denial for toolName, computing a new backoff
// window once the denial count passes denialsBeforeBackoff.
func (l *RateLimiter) RecordDenial(toolName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.state) >= maxRateLimiterKeys {
		l.prune()
	}

	s, ok := l.state[toolName]
	if !ok {
		s = &denialState{}
		l.state[toolName] = s
	}
	s.denialCount++
	s.lastDenial = time.Now()

	if s.denialCount > denialsBeforeBackoff {
		exp := s.denialCount - denialsBeforeBackoff - 1
		secs := backoffBaseSeconds
		for i := 0; i < exp; i++ {
			secs *= 2
		}
		if secs > backoffCapSeconds {
			secs = backoffCapSeconds
		}
		s.backoffUntil = s.lastDenial.Add(time.Duration(secs) * time.Second)
	}
}

// Reset clears toolName's denial state entirely, called on any approval.
func (l *RateLimiter) Reset(toolName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state, toolName)
}

// prune evicts entries whose backoff has long since expired, bounding
// memory when many distinct tool names have been denied over a long
// session. Caller must hold l.mu.
func (l *RateLimiter) prune() {
	now := time.Now()
	for name, s := range l.state {
		if now.After(s.backoffUntil) && now.Sub(s.lastDenial) > time.Hour {
			delete(l.state, name)
		}
	}
}
