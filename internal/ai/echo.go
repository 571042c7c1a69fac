package ai

import (
	"context"
	"strings"
)

// EchoProvider answers with the caller's last message. Its stream carries no
// text, so consumers see only the final output.
type EchoProvider struct{}

func NewEchoProvider() *EchoProvider { return &EchoProvider{} }

func (EchoProvider) Chat(_ context.Context, messages []Message) (string, error) {
	return strings.TrimSpace(LastUserContent(messages)), nil
}

func (p EchoProvider) StreamChat(ctx context.Context, messages []Message) (*Run, error) {
	return Start(ctx, func(ctx context.Context, emit Emit) (string, error) {
		if !emit(Other{Kind: "echo"}) {
			return "", ctx.Err()
		}
		return p.Chat(ctx, messages)
	}), nil
}
