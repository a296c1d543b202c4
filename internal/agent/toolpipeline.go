package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaykit/conductor/internal/hooks"
	"github.com/relaykit/conductor/internal/policy"
	"github.com/relaykit/conductor/pkg/models"
)

// executeToolCalls runs every tool_use block in one assistant turn
// through the ToolRunner (bounded concurrency, spec §4.7 "Concurrent
// tool calls") and reassembles the results in original order before
// appending them as a single user message.
//
// Grounded on the teacher's internal/agent/tool_exec.go
// (ToolExecutor.ExecuteConcurrently's ordered-result-slice pattern).
func (a *Agent) executeToolCalls(ctx context.Context, calls []models.ContentBlock) *models.Message {
	results := make([]models.ContentBlock, len(calls))
	type indexed struct {
		i     int
		block models.ContentBlock
	}
	resultCh := make(chan indexed, len(calls))

	for i, call := range calls {
		i, call := i, call
		go func() {
			_, _ = a.toolRunner.Run(ctx, func(taskCtx context.Context) (any, error) {
				result := a.processToolCall(taskCtx, call)
				resultCh <- indexed{i: i, block: result}
				return nil, nil
			})
		}()
	}
	for range calls {
		r := <-resultCh
		results[r.i] = r.block
	}

	return &models.Message{
		ID:      "msg_" + a.id + "_results_" + fmt.Sprint(time.Now().UnixNano()),
		Role:    models.RoleUser,
		Content: results,
	}
}

// processToolCall implements spec §4.7's eleven-step pipeline for one
// tool_use block.
func (a *Agent) processToolCall(ctx context.Context, call models.ContentBlock) models.ContentBlock {
	record := models.NewToolCallRecord(call.ToolUseID, call.ToolName, call.ToolInput)
	a.putToolRecord(record)
	a.bus.EmitProgress(ctx, models.Event{Kind: models.EventToolStart, Data: map[string]any{"record": record}})

	a.breakpoints.Set(ctx, models.BreakpointPreTool, "")
	defer func() {
		a.bus.EmitProgress(ctx, models.Event{Kind: models.EventToolEnd, Data: map[string]any{"id": record.ID}})
		a.breakpoints.Set(ctx, models.BreakpointPostTool, "")
	}()

	tool, ok := a.tools[call.ToolName]
	if !ok {
		return a.fail(ctx, record, models.ToolErrorLogical, "Tool not found", nil)
	}

	input, err := decodeInput(call.ToolInput)
	if err != nil {
		return a.fail(ctx, record, models.ToolErrorValidation, err.Error(), []string{"fix the tool_use input to be valid JSON"})
	}
	if recs, err := validateSchema(tool.InputSchema, input); err != nil {
		return a.fail(ctx, record, models.ToolErrorValidation, err.Error(), recs)
	}

	verdict := a.policyMgr.Evaluate(call.ToolName)
	if verdict == policy.VerdictDeny {
		record.Transition(models.ToolStateDenied, "policy denied")
		return errorResult(call.ToolUseID, "denied by policy", string(models.ToolErrorLogical), false, nil)
	}
	needsApproval := verdict == policy.VerdictAsk

	preCtx := &hooks.Context{Phase: hooks.PhasePreToolUse, AgentID: a.id, ToolName: call.ToolName, ToolCallID: call.ToolUseID, Input: input}
	decision, _ := a.hookMgr.Run(ctx, preCtx)
	switch decision.Kind {
	case hooks.DecisionDeny:
		record.Transition(models.ToolStateDenied, decision.Reason)
		if decision.ToolResult != nil {
			return *decision.ToolResult
		}
		return errorResult(call.ToolUseID, decision.Reason, string(models.ToolErrorLogical), false, nil)
	case hooks.DecisionResult:
		record.Transition(models.ToolStateCompleted, "short-circuited by hook")
		if decision.Result != nil {
			return *decision.Result
		}
		return models.ContentBlock{Type: models.BlockToolResult, ToolUseRefID: call.ToolUseID}
	case hooks.DecisionAsk:
		needsApproval = true
	}
	if preCtx.Input != nil {
		input = preCtx.Input
	}

	if needsApproval {
		allow, note := a.awaitApproval(ctx, record)
		if !allow {
			record.Transition(models.ToolStateDenied, note)
			a.breakpoints.Set(ctx, models.BreakpointPostTool, "")
			return errorResult(call.ToolUseID, "denied: "+note, string(models.ToolErrorLogical), false, nil)
		}
		record.Transition(models.ToolStateApproved, note)
		a.breakpoints.Set(ctx, models.BreakpointPreTool, "")
	}

	record.Transition(models.ToolStateExecuting, "")
	a.breakpoints.Set(ctx, models.BreakpointToolExecuting, "")

	timeout := a.cfg.ToolTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	outcome, execErr := tool.Exec(execCtx, input)
	cancel()

	result := a.finishExecution(ctx, record, call, outcome, execErr)

	postCtx := &hooks.Context{Phase: hooks.PhasePostToolUse, AgentID: a.id, ToolName: call.ToolName, ToolCallID: call.ToolUseID, Output: &result}
	postDecision, _ := a.hookMgr.Run(ctx, postCtx)
	if postDecision.OutputOverride != nil {
		result = *postDecision.OutputOverride
	} else if postCtx.Output != nil {
		result = *postCtx.Output
	}

	a.recordFilePoolSideEffect(ctx, call.ToolName, input)
	return result
}

func (a *Agent) finishExecution(ctx context.Context, record *models.ToolCallRecord, call models.ContentBlock, outcome ToolOutcome, execErr error) models.ContentBlock {
	if execErr != nil {
		errType := models.ToolErrorException
		if ctx.Err() != nil {
			errType = models.ToolErrorAborted
		}
		record.Transition(models.ToolStateFailed, execErr.Error())
		a.bus.EmitProgress(ctx, models.Event{Kind: models.EventToolError, Data: map[string]any{"id": record.ID, "error": execErr.Error()}})
		return errorResult(call.ToolUseID, execErr.Error(), string(errType), errType.Retryable(), nil)
	}

	if !outcome.OK {
		record.Transition(models.ToolStateFailed, outcome.Error)
		a.bus.EmitMonitor(ctx, models.Event{Kind: models.EventToolExecuted, Data: map[string]any{"id": record.ID, "ok": false}})
		return errorResult(call.ToolUseID, outcome.Error, outcome.ErrorType, outcome.Retryable, outcome.Recommendations)
	}

	record.Transition(models.ToolStateCompleted, "")
	a.bus.EmitMonitor(ctx, models.Event{Kind: models.EventToolExecuted, Data: map[string]any{"id": record.ID, "ok": true}})

	// Unwrap {ok, data} to avoid double-nesting (spec §4.7 step 11).
	payload := map[string]any{"ok": true}
	if outcome.Data != nil {
		payload["data"] = outcome.Data
	}
	content, _ := json.Marshal(payload)
	return models.ContentBlock{Type: models.BlockToolResult, ToolUseRefID: call.ToolUseID, ToolContent: content}
}

func (a *Agent) fail(ctx context.Context, record *models.ToolCallRecord, errType models.ToolErrorType, msg string, recs []string) models.ContentBlock {
	record.Transition(models.ToolStateFailed, msg)
	a.bus.EmitProgress(ctx, models.Event{Kind: models.EventToolError, Data: map[string]any{"id": record.ID, "error": msg}})
	return errorResult(record.ID, msg, string(errType), errType.Retryable(), recs)
}

func errorResult(toolUseID, errMsg, errType string, retryable bool, recs []string) models.ContentBlock {
	payload := map[string]any{"ok": false, "error": errMsg, "errorType": errType, "retryable": retryable}
	if len(recs) > 0 {
		payload["recommendations"] = recs
	}
	content, _ := json.Marshal(payload)
	return models.ContentBlock{Type: models.BlockToolResult, ToolUseRefID: toolUseID, ToolContent: content, IsError: true}
}

func decodeInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid tool input: %w", err)
	}
	return out, nil
}

// validateSchema compiles and validates input against the tool's JSON
// schema (spec §4.7 step 3), using santhosh-tekuri/jsonschema as the
// schema compiler/validator.
func validateSchema(schema map[string]any, input map[string]any) ([]string, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, err
	}
	if err := compiled.Validate(input); err != nil {
		return []string{"check the input against the tool's input_schema"}, err
	}
	return nil, nil
}

func (a *Agent) putToolRecord(r *models.ToolCallRecord) {
	a.mu.Lock()
	a.toolRecords[r.ID] = r
	a.toolOrder = append(a.toolOrder, r.ID)
	snapshot := a.toolRecordSnapshotLocked()
	a.mu.Unlock()

	if a.store != nil {
		_ = a.store.SaveToolCallRecords(context.Background(), a.id, snapshot)
	}
}

func (a *Agent) toolRecordSnapshotLocked() []*models.ToolCallRecord {
	out := make([]*models.ToolCallRecord, 0, len(a.toolOrder))
	for _, id := range a.toolOrder {
		out = append(out, a.toolRecords[id])
	}
	return out
}

// recordFilePoolSideEffect calls FilePool.RecordRead/RecordEdit for the
// fs_* tool family (spec §4.7 step 9).
func (a *Agent) recordFilePoolSideEffect(ctx context.Context, toolName string, input map[string]any) {
	if a.filePool == nil {
		return
	}
	path, _ := input["path"].(string)
	if path == "" {
		return
	}
	switch toolName {
	case "fs_read":
		_ = a.filePool.RecordRead(ctx, path)
	case "fs_write", "fs_edit", "fs_multi_edit":
		_ = a.filePool.RecordEdit(ctx, path)
	}
}

// sealUnanswered synthesizes a failing tool_result for every non-terminal
// tool record and every assistant tool_use lacking a matching result
// (spec §4.6/§4.7 "Sealing"), transitioning each record to SEALED.
func (a *Agent) sealUnanswered(ctx context.Context, note string) []string {
	a.mu.Lock()
	var sealed []string
	var syntheticResults []models.ContentBlock
	for _, id := range a.toolOrder {
		r := a.toolRecords[id]
		if r.State.Terminal() {
			continue
		}
		msg := sealMessageFor(r.State)
		r.Transition(models.ToolStateSealed, note)
		sealed = append(sealed, r.ID)
		syntheticResults = append(syntheticResults, errorResult(r.ID, msg, string(models.ToolErrorAborted), false, nil))
	}
	snapshot := a.toolRecordSnapshotLocked()
	a.mu.Unlock()

	if a.store != nil {
		_ = a.store.SaveToolCallRecords(ctx, a.id, snapshot)
	}
	if len(syntheticResults) > 0 {
		resultMsg := &models.Message{
			ID:      "msg_" + a.id + "_sealed_" + fmt.Sprint(time.Now().UnixNano()),
			Role:    models.RoleUser,
			Content: syntheticResults,
		}
		_ = a.msgQueue.AppendAssistant(ctx, resultMsg)
	}
	return sealed
}

// sealMessageFor picks a context-appropriate synthetic failure message
// per the record's state at seal time (spec §4.7 "Sealing").
func sealMessageFor(state models.ToolCallState) string {
	switch state {
	case models.ToolStateApprovalRequired:
		return "Tool call was awaiting approval when the agent was interrupted; no result was produced."
	case models.ToolStateApproved:
		return "Tool call was approved but not yet started when the agent was interrupted."
	case models.ToolStateExecuting:
		return "Tool call was executing when the agent was interrupted; its result is unknown."
	case models.ToolStatePending:
		return "Tool call was never started before the agent was interrupted."
	default:
		return "Tool call did not complete before the agent was interrupted."
	}
}

