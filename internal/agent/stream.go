package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/conductor/pkg/models"
)

// blockBuilder accumulates one in-progress content block across
// StreamEvents until its content_block_stop arrives.
type blockBuilder struct {
	typ       models.BlockType
	text      bytes.Buffer
	toolUseID string
	toolName  string
	inputBuf  bytes.Buffer
}

// streamAssistantTurn consumes the provider's stream chunk-by-chunk,
// reconstructing the assistant message's content blocks (spec §4.6
// step 6) and emitting progress events per text/thinking block.
func (a *Agent) streamAssistantTurn(ctx context.Context, messages []*models.Message) (*models.Message, []models.ContentBlock, error) {
	req := CompletionRequest{
		Model:          a.cfg.Model,
		System:         a.cfg.SystemPrompt,
		Messages:       messages,
		Tools:          a.toolDescriptors(),
		ExposeThinking: a.cfg.ExposeThinking,
	}
	chunks, err := a.provider.Stream(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: stream: %w", err)
	}

	builders := map[int]*blockBuilder{}
	order := []int{}
	thinkingOpen := false

	for ev := range chunks {
		if ev.Err != nil {
			return nil, nil, ev.Err
		}
		switch ev.Type {
		case StreamBlockStart:
			b := &blockBuilder{typ: ev.BlockType, toolUseID: ev.ToolUseID, toolName: ev.ToolName}
			builders[ev.Index] = b
			order = append(order, ev.Index)
			if b.typ == models.BlockText {
				a.bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunkStart, Data: map[string]any{"index": ev.Index}})
			}
			if a.cfg.ExposeThinking && b.typ == models.BlockReasoning && !thinkingOpen {
				thinkingOpen = true
				a.bus.EmitProgress(ctx, models.Event{Kind: models.EventThinkChunkStart})
			}

		case StreamBlockDelta:
			b := builders[ev.Index]
			if b == nil {
				continue
			}
			switch b.typ {
			case models.BlockText:
				b.text.WriteString(ev.TextDelta)
				a.bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk, Data: map[string]any{"index": ev.Index, "text": ev.TextDelta}})
			case models.BlockReasoning:
				b.text.WriteString(ev.TextDelta)
			case models.BlockToolUse:
				b.inputBuf.WriteString(ev.InputDelta)
			}

		case StreamBlockStop:
			b := builders[ev.Index]
			if b == nil {
				continue
			}
			if b.typ == models.BlockText {
				a.bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunkEnd, Data: map[string]any{"index": ev.Index}})
			}

		case StreamMessageDelta:
			if ev.Usage != nil {
				a.bus.EmitMonitor(ctx, models.Event{Kind: models.EventTokenUsage, Data: map[string]any{
					"input_tokens": ev.Usage.InputTokens, "output_tokens": ev.Usage.OutputTokens,
				}})
			}
		}
	}

	if thinkingOpen {
		a.bus.EmitProgress(ctx, models.Event{Kind: models.EventThinkChunkEnd})
	}

	content := make([]models.ContentBlock, 0, len(order))
	var toolUses []models.ContentBlock
	for _, idx := range order {
		b := builders[idx]
		switch b.typ {
		case models.BlockToolUse:
			block := models.ContentBlock{
				Type:      models.BlockToolUse,
				ToolUseID: b.toolUseID,
				ToolName:  b.toolName,
				ToolInput: json.RawMessage(normalizeJSON(b.inputBuf.Bytes())),
			}
			content = append(content, block)
			toolUses = append(toolUses, block)
		default:
			content = append(content, models.ContentBlock{Type: b.typ, Text: b.text.String()})
		}
	}

	msg := &models.Message{
		ID:      "msg_" + a.id + "_" + fmt.Sprint(len(messages)),
		Role:    models.RoleAssistant,
		Content: content,
	}
	return msg, toolUses, nil
}

// normalizeJSON returns "{}" for empty/whitespace-only buffered tool
// input so json.RawMessage is always valid JSON even if the provider
// streamed no delta chunks for a zero-argument tool call.
func normalizeJSON(b []byte) []byte {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return []byte("{}")
	}
	return trimmed
}

func (a *Agent) toolDescriptors() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, t)
	}
	return out
}
