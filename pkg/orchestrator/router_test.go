package orchestrator

import (
	"context"
	"testing"

	"github.com/gautambitious/jin-ai/pkg/agents"
)

func testRegistry() *agents.Registry {
	r := agents.NewRegistry()
	r.Register(&agents.Func{AgentName: "portfolio_agent", Desc: "stock portfolio status", Fn: func(ctx context.Context, in string) (string, error) { return "", nil }})
	r.Register(&agents.Func{AgentName: "weather_agent", Desc: "weather and forecasts", Fn: func(ctx context.Context, in string) (string, error) { return "", nil }})
	return r
}

func TestEarlyIntent(t *testing.T) {
	r := NewRouter(&mockLLMProvider{}, testRegistry(), nil)

	t.Run("TooFewWords", func(t *testing.T) {
		if _, ok := r.EarlyIntent("how is"); ok {
			t.Error("intent must not fire under three words")
		}
	})

	t.Run("PortfolioPattern", func(t *testing.T) {
		hint, ok := r.EarlyIntent("how is my portfolio")
		if !ok || hint != "portfolio" {
			t.Errorf("expected portfolio hint, got %q ok=%v", hint, ok)
		}
	})

	t.Run("WeatherPattern", func(t *testing.T) {
		hint, ok := r.EarlyIntent("tell me about the weather today")
		if !ok || hint != "weather" {
			t.Errorf("expected weather hint, got %q ok=%v", hint, ok)
		}
	})

	t.Run("QuestionStarter", func(t *testing.T) {
		hint, ok := r.EarlyIntent("what is the capital of france")
		if !ok || hint != "direct" {
			t.Errorf("expected direct hint for question, got %q ok=%v", hint, ok)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		if hint, ok := r.EarlyIntent("banana banana banana"); ok {
			t.Errorf("unexpected hint %q", hint)
		}
	})
}

func TestRoute(t *testing.T) {
	t.Run("HintSkipsLLM", func(t *testing.T) {
		llm := &mockLLMProvider{completeErr: context.DeadlineExceeded} // would fail if called
		r := NewRouter(llm, testRegistry(), nil)

		d := r.Route(context.Background(), "how is my portfolio doing", "portfolio")
		if d.Mode != RouteAgent || d.Agent != "portfolio_agent" {
			t.Errorf("expected portfolio_agent via hint, got %+v", d)
		}
	})

	t.Run("LLMAgentDecision", func(t *testing.T) {
		llm := &mockLLMProvider{completeResult: "AGENT:weather_agent"}
		r := NewRouter(llm, testRegistry(), nil)

		d := r.Route(context.Background(), "will it rain tomorrow", "")
		if d.Mode != RouteAgent || d.Agent != "weather_agent" {
			t.Errorf("expected weather_agent, got %+v", d)
		}
	})

	t.Run("LLMDirectDecision", func(t *testing.T) {
		llm := &mockLLMProvider{completeResult: "DIRECT"}
		r := NewRouter(llm, testRegistry(), nil)

		d := r.Route(context.Background(), "what is two plus two", "")
		if d.Mode != RouteDirect {
			t.Errorf("expected direct, got %+v", d)
		}
		if d.Label() != "DIRECT" {
			t.Errorf("expected DIRECT label, got %q", d.Label())
		}
	})

	t.Run("UnknownAgentFallsBack", func(t *testing.T) {
		llm := &mockLLMProvider{completeResult: "AGENT:ghost_agent"}
		r := NewRouter(llm, testRegistry(), nil)

		d := r.Route(context.Background(), "do something", "")
		if d.Mode != RouteDirect {
			t.Errorf("unknown agent must fall back to direct, got %+v", d)
		}
	})

	t.Run("LLMErrorFallsBack", func(t *testing.T) {
		llm := &mockLLMProvider{completeErr: context.DeadlineExceeded}
		r := NewRouter(llm, testRegistry(), nil)

		d := r.Route(context.Background(), "do something", "")
		if d.Mode != RouteDirect {
			t.Errorf("routing error must fall back to direct, got %+v", d)
		}
	})

	t.Run("EmptyRegistrySkipsLLM", func(t *testing.T) {
		llm := &mockLLMProvider{completeErr: context.DeadlineExceeded}
		r := NewRouter(llm, agents.NewRegistry(), nil)

		d := r.Route(context.Background(), "anything at all", "")
		if d.Mode != RouteDirect {
			t.Errorf("expected direct with no agents, got %+v", d)
		}
	})

	t.Run("StaleHintFallsThrough", func(t *testing.T) {
		llm := &mockLLMProvider{completeResult: "DIRECT"}
		r := NewRouter(llm, testRegistry(), nil)

		// hint names a tag no registered agent matches
		d := r.Route(context.Background(), "send an email to bob", "email")
		if d.Mode != RouteDirect {
			t.Errorf("unmatched hint must go through final routing, got %+v", d)
		}
	})
}
