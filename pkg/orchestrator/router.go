package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gautambitious/jin-ai/pkg/agents"
	"github.com/gautambitious/jin-ai/pkg/logging"
)

// RouteMode says whether an utterance goes to a named agent or straight to
// the LLM.
type RouteMode string

const (
	RouteDirect RouteMode = "direct"
	RouteAgent  RouteMode = "agent"
)

// Decision is the resolved route for one utterance.
type Decision struct {
	Mode  RouteMode
	Agent string
}

// Label renders the decision for route_decision frames.
func (d Decision) Label() string {
	if d.Mode == RouteAgent {
		return d.Agent
	}
	return "DIRECT"
}

const routingPrompt = `You are a voice assistant router. Analyze user requests and determine the best way to handle them.

Available agents and their capabilities:
%s

Respond with either:
- AGENT:<agent_name> if the request matches an agent
- DIRECT if it's a general question

This is a VOICE interface - users expect quick responses.

User request: %s

Response (AGENT:<name> or DIRECT):`

// earlyIntentPatterns maps partial-transcript patterns to route hints. The
// hint names an agent tag or the literal "direct".
var earlyIntentPatterns = []struct {
	re    *regexp.Regexp
	route string
}{
	{regexp.MustCompile(`\b(what|tell|explain|how)\b.*\b(weather|temperature|forecast)\b`), "weather"},
	{regexp.MustCompile(`\b(search|find|look up|google)\b`), "search"},
	{regexp.MustCompile(`\b(portfolio|stocks|investment|trading)\b`), "portfolio"},
	{regexp.MustCompile(`\b(news|latest|headlines)\b`), "news"},
	{regexp.MustCompile(`\b(calendar|schedule|meeting|appointment)\b`), "calendar"},
	{regexp.MustCompile(`\b(email|message|send)\b`), "email"},
}

var questionStarters = map[string]struct{}{
	"what": {}, "who": {}, "where": {}, "when": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "can": {}, "do": {}, "does": {},
}

// Router resolves utterances to a destination. Early intent runs a
// deterministic pattern table over interim transcripts; final routing asks
// the LLM unless the early hint already named an agent.
type Router struct {
	llm      LLMProvider
	registry *agents.Registry
	log      logging.Logger
}

func NewRouter(llm LLMProvider, registry *agents.Registry, log logging.Logger) *Router {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &Router{llm: llm, registry: registry, log: log}
}

// EarlyIntent inspects a partial transcript. It only speaks up once at
// least three words are in; the returned hint is either an agent tag from
// the pattern table, or "direct" for obvious questions. Tags are not checked
// against the registry here; Route resolves them.
func (r *Router) EarlyIntent(partial string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(partial))
	words := strings.Fields(text)
	if len(words) < 3 {
		return "", false
	}

	for _, p := range earlyIntentPatterns {
		if p.re.MatchString(text) {
			return p.route, true
		}
	}

	if len(words) >= 5 {
		if _, ok := questionStarters[words[0]]; ok {
			return "direct", true
		}
	}

	return "", false
}

// Route resolves the final transcript. A non-direct hint that matches a
// registered agent skips the LLM call entirely.
func (r *Router) Route(ctx context.Context, transcript, hint string) Decision {
	if hint != "" && hint != "direct" {
		if name := r.matchAgent(hint); name != "" {
			r.log.Info("routing via early intent", "agent", name, "hint", hint)
			return Decision{Mode: RouteAgent, Agent: name}
		}
	}

	if r.registry == nil || r.registry.Len() == 0 {
		return Decision{Mode: RouteDirect}
	}

	prompt := fmt.Sprintf(routingPrompt, r.registry.Describe(), transcript)
	reply, err := r.llm.Complete(ctx, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		r.log.Warn("routing LLM failed, defaulting to direct", "error", err)
		return Decision{Mode: RouteDirect}
	}

	decision := strings.TrimSpace(reply)
	if strings.HasPrefix(decision, "AGENT:") {
		name := strings.TrimSpace(strings.TrimPrefix(decision, "AGENT:"))
		if r.registry.Get(name) != nil {
			return Decision{Mode: RouteAgent, Agent: name}
		}
		r.log.Warn("routing LLM named unknown agent, defaulting to direct", "agent", name)
	}
	return Decision{Mode: RouteDirect}
}

// matchAgent resolves an intent tag like "portfolio" to a registered agent
// name like "portfolio_agent".
func (r *Router) matchAgent(tag string) string {
	if r.registry == nil {
		return ""
	}
	if r.registry.Get(tag) != nil {
		return tag
	}
	for _, name := range r.registry.Names() {
		if strings.HasPrefix(name, tag) {
			return name
		}
	}
	return ""
}
