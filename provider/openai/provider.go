// Package openai implements provider.Completer on top of the official
// OpenAI Go SDK. Configuration (API key, base URL) comes from the SDK's
// request options, which default to the OPENAI_API_KEY environment variable.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/casualjim/aviary/provider"
)

type Provider struct {
	client *openai.Client
	model  string
}

// New creates a completer for the given model name. Request options are
// passed through to the underlying client.
func New(model string, options ...option.RequestOption) *Provider {
	return &Provider{
		client: openai.NewClient(options...),
		model:  model,
	}
}

func (p *Provider) Create(ctx context.Context, messages []provider.Message) (provider.Result, error) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F(messagesToOpenAI(messages)),
		Model:    openai.F(p.model),
		N:        openai.Int(1),
	}

	chat, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(chat.Choices) == 0 {
		return provider.Result{}, fmt.Errorf("chat completion: model %q returned no choices", p.model)
	}

	return provider.Result{
		Content: chat.Choices[0].Message.Content,
		Model:   chat.Model,
		Usage: provider.Usage{
			PromptTokens:     chat.Usage.PromptTokens,
			CompletionTokens: chat.Usage.CompletionTokens,
		},
	}, nil
}

func messagesToOpenAI(messages []provider.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case provider.RoleSystem:
			result = append(result, openai.SystemMessage(message.Content))
		case provider.RoleAssistant:
			result = append(result, openai.AssistantMessage(message.Content))
		default:
			result = append(result, openai.UserMessage(message.Content))
		}
	}
	return result
}
