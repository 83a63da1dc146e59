package llm

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/gautambitious/jin-ai/pkg/orchestrator"
)

const anthropicMaxTokens = 1024

// AnthropicLLM implements orchestrator.LLMProvider via the Anthropic
// Messages API.
type AnthropicLLM struct {
	client anthropic.Client
	model  string
}

func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	return &AnthropicLLM{
		client: anthropic.NewClient(anthropicOption.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}

func (l *AnthropicLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	resp, err := l.client.Messages.New(ctx, l.buildParams(messages))
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned no text content")
}

func (l *AnthropicLLM) StreamComplete(ctx context.Context, messages []orchestrator.Message, onToken func(string) error) (string, error) {
	stream := l.client.Messages.NewStreaming(ctx, l.buildParams(messages))
	defer stream.Close()

	full := ""
	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" || event.Delta.Type != "text_delta" {
			continue
		}
		delta := event.Delta.Text
		if delta == "" {
			continue
		}
		full += delta
		if err := onToken(delta); err != nil {
			return full, err
		}
	}
	if err := stream.Err(); err != nil {
		return full, fmt.Errorf("anthropic stream failed: %w", err)
	}
	return full, nil
}

func (l *AnthropicLLM) buildParams(messages []orchestrator.Message) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	converted := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  converted,
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}
