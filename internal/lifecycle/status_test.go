package lifecycle

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestCanStart(t *testing.T) {
	cases := map[Status]bool{
		Unset:     true,
		Failed:    true,
		Pending:   false,
		Running:   false,
		Completed: false,
	}
	for status, want := range cases {
		if got := status.CanStart(); got != want {
			t.Errorf("%q.CanStart() = %v, want %v", status, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(Pending, Running); err != nil {
		t.Errorf("expected pending -> running to be valid, got %v", err)
	}
	if err := Validate(Unset, Completed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for unset -> completed, got %v", err)
	}
	if err := Validate(Unset, Running); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for unset -> running, got %v", err)
	}
}

func TestSourcesOf(t *testing.T) {
	got := sourcesOf(Pending)
	if len(got) != 2 || got[0] != Unset || got[1] != Failed {
		t.Errorf("expected [unset failed], got %v", got)
	}
	if got := sourcesOf(Completed); len(got) != 1 || got[0] != Running {
		t.Errorf("expected [running], got %v", got)
	}
}

func TestLabel(t *testing.T) {
	if Unset.Label() != "not_started" {
		t.Errorf("expected not_started, got %s", Unset.Label())
	}
	if Running.Label() != "running" {
		t.Errorf("expected running, got %s", Running.Label())
	}
}

// Any walk through the table reaches completed or failed only via running,
// except the pending -> failed escape used when enqueueing fails.
func TestTerminalStatesPassThroughRunning(t *testing.T) {
	all := []Status{Unset, Pending, Running, Completed, Failed}
	rapid.Check(t, func(t *rapid.T) {
		current := Unset
		startedRun := false
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			next := rapid.SampledFrom(all).Draw(t, "next")
			if !CanTransition(current, next) {
				continue
			}
			if next == Completed && current != Running {
				t.Fatalf("reached completed from %q", current)
			}
			if next == Completed && !startedRun {
				t.Fatalf("completed without a running phase")
			}
			if next == Running {
				startedRun = true
			}
			if next == Pending || next == Unset {
				startedRun = false
			}
			current = next
		}
	})
}
