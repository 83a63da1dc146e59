package agents

import (
	"context"
	"strings"
	"testing"
)

func newTestAgent(name, desc string) *Func {
	return &Func{
		AgentName: name,
		Desc:      desc,
		Fn: func(ctx context.Context, input string) (string, error) {
			return "handled: " + input, nil
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("RegisterAndGet", func(t *testing.T) {
		if err := r.Register(newTestAgent("portfolio_agent", "stock portfolio status")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		a := r.Get("portfolio_agent")
		if a == nil {
			t.Fatal("expected agent, got nil")
		}
		out, err := a.Execute(context.Background(), "how is my portfolio")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "handled: how is my portfolio" {
			t.Errorf("unexpected output: %s", out)
		}
	})

	t.Run("DuplicateName", func(t *testing.T) {
		if err := r.Register(newTestAgent("portfolio_agent", "dup")); err == nil {
			t.Error("expected error on duplicate registration")
		}
	})

	t.Run("EmptyName", func(t *testing.T) {
		if err := r.Register(newTestAgent("  ", "blank")); err == nil {
			t.Error("expected error on empty name")
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		if a := r.Get("nope"); a != nil {
			t.Errorf("expected nil for unknown agent, got %v", a)
		}
	})
}

func TestDescribe(t *testing.T) {
	r := NewRegistry()
	if got := r.Describe(); got != "No specialized agents available." {
		t.Errorf("unexpected empty description: %q", got)
	}

	r.Register(newTestAgent("weather_agent", "current weather and forecasts"))
	r.Register(newTestAgent("portfolio_agent", "stock portfolio status"))

	desc := r.Describe()
	lines := strings.Split(desc, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), desc)
	}
	// sorted output
	if !strings.HasPrefix(lines[0], "- portfolio_agent:") {
		t.Errorf("expected sorted order, got %q", lines[0])
	}
}

func TestNames(t *testing.T) {
	r := NewRegistry()
	r.Register(newTestAgent("b", ""))
	r.Register(newTestAgent("a", ""))
	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("unexpected names: %v", names)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2, got %d", r.Len())
	}
}
