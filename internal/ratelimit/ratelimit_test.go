package ratelimit

import (
	"testing"
	"time"

	"github.com/marcus-qen/agentverify/internal/kv"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(kv.NewInProcess(0), time.Minute, 3)

	for i := 0; i < 3; i++ {
		d := l.Allow("agent-1")
		if !d.Allowed {
			t.Fatalf("attempt %d: expected allowed", i+1)
		}
	}
}

func TestAllowBlocksOverLimit(t *testing.T) {
	l := New(kv.NewInProcess(0), time.Minute, 2)

	l.Allow("agent-1")
	l.Allow("agent-1")
	d := l.Allow("agent-1")
	if d.Allowed {
		t.Fatalf("expected 3rd attempt to be blocked")
	}
	if d.ResetInSecs <= 0 {
		t.Fatalf("expected a positive reset countdown, got %d", d.ResetInSecs)
	}
}

func TestAllowIsolatesAgents(t *testing.T) {
	l := New(kv.NewInProcess(0), time.Minute, 1)

	d1 := l.Allow("agent-1")
	d2 := l.Allow("agent-2")
	if !d1.Allowed || !d2.Allowed {
		t.Fatalf("expected independent agents to each get their own budget")
	}
}
