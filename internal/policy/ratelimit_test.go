package policy

import (
	"testing"
	"time"
)

func TestRateLimiterFirstDenialsAreFree(t *testing.T) {
	l := NewRateLimiter()
	l.RecordDenial("shell")
	if l.IsBackedOff("shell") {
		t.Fatal("first denial should not trigger backoff")
	}
	l.RecordDenial("shell")
	if l.IsBackedOff("shell") {
		t.Fatal("second denial should not trigger backoff")
	}
}

func TestRateLimiterThirdDenialBacksOff(t *testing.T) {
	l := NewRateLimiter()
	l.RecordDenial("shell")
	l.RecordDenial("shell")
	l.RecordDenial("shell")
	if !l.IsBackedOff("shell") {
		t.Fatal("third denial should impose a backoff window")
	}
}

func TestRateLimiterBackoffGrowsAndCaps(t *testing.T) {
	l := NewRateLimiter()
	for i := 0; i < 3; i++ {
		l.RecordDenial("shell")
	}
	s := l.state["shell"]
	first := s.backoffUntil.Sub(s.lastDenial)
	if first != backoffBaseSeconds*time.Second {
		t.Fatalf("expected initial backoff %v, got %v", backoffBaseSeconds*time.Second, first)
	}

	l.RecordDenial("shell")
	s = l.state["shell"]
	second := s.backoffUntil.Sub(s.lastDenial)
	if second != 2*backoffBaseSeconds*time.Second {
		t.Fatalf("expected doubled backoff %v, got %v", 2*backoffBaseSeconds*time.Second, second)
	}

	for i := 0; i < 20; i++ {
		l.RecordDenial("shell")
	}
	s = l.state["shell"]
	capped := s.backoffUntil.Sub(s.lastDenial)
	if capped != backoffCapSeconds*time.Second {
		t.Fatalf("expected backoff capped at %v, got %v", backoffCapSeconds*time.Second, capped)
	}
}

func TestRateLimiterResetClearsState(t *testing.T) {
	l := NewRateLimiter()
	l.RecordDenial("shell")
	l.RecordDenial("shell")
	l.RecordDenial("shell")
	if !l.IsBackedOff("shell") {
		t.Fatal("expected backoff before reset")
	}
	l.Reset("shell")
	if l.IsBackedOff("shell") {
		t.Fatal("expected no backoff after reset")
	}
	if _, ok := l.state["shell"]; ok {
		t.Fatal("expected state entry removed after reset")
	}
}

func TestRateLimiterIsBackedOffUnknownTool(t *testing.T) {
	l := NewRateLimiter()
	if l.IsBackedOff("never_denied") {
		t.Fatal("expected no backoff for a tool with no recorded denials")
	}
}

func TestRateLimiterIndependentPerTool(t *testing.T) {
	l := NewRateLimiter()
	l.RecordDenial("shell")
	l.RecordDenial("shell")
	l.RecordDenial("shell")
	if l.IsBackedOff("write_file") {
		t.Fatal("backoff for one tool name must not affect another")
	}
}
