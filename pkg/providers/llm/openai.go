// Package llm implements completion providers for routing and response
// generation.
package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/gautambitious/jin-ai/pkg/orchestrator"
)

// OpenAILLM implements orchestrator.LLMProvider via the OpenAI chat
// completions API.
type OpenAILLM struct {
	client oai.Client
	model  string
}

func NewOpenAILLM(apiKey, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAILLM{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// NewOpenAILLMWithBaseURL targets an OpenAI-compatible endpoint.
func NewOpenAILLMWithBaseURL(apiKey, model, baseURL string) *OpenAILLM {
	return &OpenAILLM{
		client: oai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)),
		model:  model,
	}
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}

func (l *OpenAILLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	resp, err := l.client.Chat.Completions.New(ctx, l.buildParams(messages))
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (l *OpenAILLM) StreamComplete(ctx context.Context, messages []orchestrator.Message, onToken func(string) error) (string, error) {
	stream := l.client.Chat.Completions.NewStreaming(ctx, l.buildParams(messages))
	defer stream.Close()

	full := ""
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if err := onToken(delta); err != nil {
			return full, err
		}
	}
	if err := stream.Err(); err != nil {
		return full, fmt.Errorf("openai stream failed: %w", err)
	}
	return full, nil
}

func (l *OpenAILLM) buildParams(messages []orchestrator.Message) oai.ChatCompletionNewParams {
	converted := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, oai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, oai.AssistantMessage(m.Content))
		default:
			converted = append(converted, oai.UserMessage(m.Content))
		}
	}
	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(l.model),
		Messages: converted,
	}
}
