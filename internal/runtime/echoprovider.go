package runtime

import (
	"context"

	"github.com/relaykit/conductor/internal/agent"
	"github.com/relaykit/conductor/pkg/models"
)

// EchoProvider is a Provider that replies with the last user message
// verbatim, without calling out to a real model backend. Concrete wire
// clients (Anthropic, OpenAI, Gemini, OpenRouter) are external
// collaborators; this exists so cmd/conductor has something runnable
// out of the box, the same role the teacher's onboard/setup commands
// give a default config.
type EchoProvider struct{}

func (EchoProvider) Name() string { return "echo" }

func (EchoProvider) Stream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamEvent, error) {
	reply := "(no input)"
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != models.RoleUser {
			continue
		}
		for _, block := range msg.Content {
			if block.Type == models.BlockText {
				reply = block.Text
			}
		}
		break
	}

	ch := make(chan agent.StreamEvent, 4)
	ch <- agent.StreamEvent{Type: agent.StreamBlockStart, Index: 0, BlockType: models.BlockText}
	ch <- agent.StreamEvent{Type: agent.StreamBlockDelta, Index: 0, TextDelta: reply}
	ch <- agent.StreamEvent{Type: agent.StreamBlockStop, Index: 0}
	ch <- agent.StreamEvent{Type: agent.StreamMessageDelta, Usage: &agent.Usage{
		InputTokens:  len(req.Messages),
		OutputTokens: len(reply),
	}}
	close(ch)
	return ch, nil
}
