package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultInstructions = "Respond to the user prompt conversationally."

type OpenAIProvider struct {
	client       *openai.Client
	model        string
	instructions string
}

// NewOpenAIProvider builds a client for the OpenAI API or any compatible
// endpoint when baseURL is set.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		model:        model,
		instructions: defaultInstructions,
	}, nil
}

func (p *OpenAIProvider) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if len(messages) == 0 || messages[0].Role != openai.ChatMessageRoleSystem {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.instructions})
	}
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{Model: p.model, Messages: msgs, Stream: stream}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages, false))
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (*Run, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(messages, true))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	return Start(ctx, func(ctx context.Context, emit Emit) (string, error) {
		defer stream.Close()

		var full strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return full.String(), nil
			}
			if err != nil {
				return full.String(), fmt.Errorf("openai: %w", err)
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			var ev Event
			switch {
			case choice.Delta.Content != "":
				full.WriteString(choice.Delta.Content)
				ev = Delta{Text: choice.Delta.Content}
			case choice.FinishReason != "":
				ev = Other{Kind: "finish:" + string(choice.FinishReason)}
			case choice.Delta.Role != "":
				ev = Other{Kind: "role:" + choice.Delta.Role}
			default:
				continue
			}
			if !emit(ev) {
				return full.String(), ctx.Err()
			}
		}
	}), nil
}
