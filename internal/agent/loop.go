package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/relaykit/conductor/internal/hooks"
	"github.com/relaykit/conductor/internal/idgen"
	"github.com/relaykit/conductor/internal/queue"
	"github.com/relaykit/conductor/pkg/models"
)

// Send appends a user message to the queue and ensures the loop is
// running (spec §4.5/§4.6: Agent.send).
func (a *Agent) Send(ctx context.Context, text string) (string, error) {
	return a.msgQueue.Send(ctx, text, queue.SendOptions{Kind: queue.KindUser})
}

// Remind injects a system reminder, wrapped in <system-reminder> tags
// unless skipStandardEnding is set, and ensures processing.
func (a *Agent) Remind(ctx context.Context, text string, skipStandardEnding bool) (string, error) {
	return a.msgQueue.Send(ctx, text, queue.SendOptions{Kind: queue.KindReminder, SkipStandardEnding: skipStandardEnding})
}

// ensureProcessing guards against concurrent runs (spec §4.6). If a
// step is already active and within the processing timeout, it sets
// pendingNextRound and returns; a stuck processor is reset and an error
// monitor event is emitted.
func (a *Agent) ensureProcessing(ctx context.Context) {
	a.mu.Lock()
	if a.processing {
		if time.Since(a.processingStarted) < processingTimeout {
			a.pendingNextRound = true
			a.mu.Unlock()
			return
		}
		// Stuck processor: reset and proceed as if nothing was running.
		a.logger.Error("agent: processing timeout exceeded, resetting", "elapsed", time.Since(a.processingStarted))
		a.bus.EmitMonitor(ctx, models.Event{Kind: models.EventError, Data: map[string]any{"reason": "processing_timeout"}})
		a.processing = false
	}
	a.processing = true
	a.processingStarted = time.Now()
	a.mu.Unlock()

	go a.runLoop(ctx)
}

// runLoop drives runStep repeatedly while pendingNextRound keeps
// getting set, then clears the processing flag.
func (a *Agent) runLoop(ctx context.Context) {
	for {
		a.runStep(ctx)

		a.mu.Lock()
		if a.pendingNextRound {
			a.pendingNextRound = false
			a.mu.Unlock()
			continue
		}
		a.processing = false
		a.mu.Unlock()
		return
	}
}

// runStep executes spec §4.6's ten-step loop body once.
func (a *Agent) runStep(ctx context.Context) {
	a.mu.Lock()
	if a.state != models.AgentStateReady {
		if a.interruptRequested {
			a.interruptRequested = false
		}
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.setState(ctx, models.AgentStateWorking)
	a.breakpoints.Set(ctx, models.BreakpointPreModel, "")

	defer func() {
		a.setState(ctx, models.AgentStateReady)
		a.breakpoints.Set(ctx, models.BreakpointReady, "")
	}()

	_ = a.msgQueue.Flush(ctx)

	messages := a.msgQueue.Messages()
	analysis := a.ctxMgr.Analyze(messages)
	if analysis.ShouldCompress {
		messages = a.runCompression(ctx, messages)
	}

	preCtx := &hooks.Context{Phase: hooks.PhasePreModel, AgentID: a.id, Messages: messages}
	_, _ = a.hookMgr.Run(ctx, preCtx)

	a.breakpoints.Set(ctx, models.BreakpointStreamingModel, "")
	assistant, toolCalls, err := a.streamAssistantTurn(ctx, messages)
	if err != nil {
		a.bus.EmitMonitor(ctx, models.Event{Kind: models.EventError, Data: map[string]any{"phase": "stream", "error": err.Error()}})
		return
	}

	postCtx := &hooks.Context{Phase: hooks.PhasePostModel, AgentID: a.id, Messages: append(messages, assistant)}
	_, _ = a.hookMgr.Run(ctx, postCtx)

	if err := a.msgQueue.AppendAssistant(ctx, assistant); err != nil {
		a.logger.Error("agent: persist assistant message failed", "error", err)
	}

	if len(toolCalls) > 0 {
		a.breakpoints.Set(ctx, models.BreakpointToolPending, "")
		resultMsg := a.executeToolCalls(ctx, toolCalls)
		if err := a.msgQueue.AppendAssistant(ctx, resultMsg); err != nil {
			a.logger.Error("agent: persist tool result message failed", "error", err)
		}

		a.mu.Lock()
		a.lastSfpIndex = len(a.msgQueue.Messages()) - 1
		a.stepCount++
		a.mu.Unlock()
		a.notifyStepObservers(ctx)
		_ = a.persistMeta(ctx)
		a.ensureProcessing(ctx)
		return
	}

	a.mu.Lock()
	a.lastSfpIndex = len(a.msgQueue.Messages()) - 1
	a.stepCount++
	a.mu.Unlock()

	reason := "completed"
	a.mu.Lock()
	if a.interruptRequested {
		reason = "interrupted"
		a.interruptRequested = false
	}
	a.mu.Unlock()

	a.bus.EmitProgress(ctx, models.Event{Kind: models.EventDone, Data: map[string]any{"reason": reason}})
	a.notifyStepObservers(ctx)
	_ = a.persistMeta(ctx)
	a.bus.EmitProgress(ctx, models.Event{Kind: models.EventStepComplete})
}

// notifyStepObservers is the scheduler/todo step-count hook point (spec
// §4.6 step 8/9: "notify scheduler & todo manager"). Wiring a concrete
// scheduler/todo manager is done by whoever constructs the Agent
// (cmd/conductor); Agent exposes the hook via StepObservers.
func (a *Agent) notifyStepObservers(ctx context.Context) {
	a.mu.Lock()
	observers := append([]StepObserver(nil), a.stepObservers...)
	a.mu.Unlock()
	for _, obs := range observers {
		obs.NotifyStep(ctx)
	}
}

// StepObserver receives a callback once per completed loop step.
// scheduler.Scheduler and todo.Manager (via a small adapter) both
// satisfy this.
type StepObserver interface {
	NotifyStep(ctx context.Context)
}

// AddStepObserver registers obs to be notified after each loop step.
func (a *Agent) AddStepObserver(obs StepObserver) {
	a.mu.Lock()
	a.stepObservers = append(a.stepObservers, obs)
	a.mu.Unlock()
}

// runCompression implements spec §4.8's compress-and-splice: archive,
// compress, and prepend the summary in place of the removed messages.
func (a *Agent) runCompression(ctx context.Context, messages []*models.Message) []*models.Message {
	a.bus.EmitMonitor(ctx, models.Event{Kind: models.EventContextCompression, Data: map[string]any{"phase": "start"}})

	windowID := fmt.Sprintf("window-%d", time.Now().UnixNano())
	recordID := "compression-" + idgen.AgentID()
	var files contextmgrRecoveredFileSource
	if a.filePool != nil {
		files = a.filePool
	}
	result := a.ctxMgr.Compress(messages, nil, files, windowID, recordID, time.Now())

	if a.store != nil {
		if err := a.store.SaveHistoryWindow(ctx, a.id, result.Window); err != nil {
			a.logger.Warn("agent: save history window failed", "error", err)
		}
		if err := a.store.SaveCompressionRecord(ctx, a.id, result.CompressionRecord); err != nil {
			a.logger.Warn("agent: save compression record failed", "error", err)
		}
		for _, f := range result.RecoveredFiles {
			if err := a.store.SaveRecoveredFile(ctx, a.id, f); err != nil {
				a.logger.Warn("agent: save recovered file failed", "error", err)
			}
		}
	}

	spliced := append([]*models.Message{result.Summary}, result.RetainedMessages...)

	a.mu.Lock()
	a.lastSfpIndex = 0
	a.mu.Unlock()

	a.bus.EmitMonitor(ctx, models.Event{Kind: models.EventContextCompression, Data: map[string]any{"phase": "end", "ratio": result.Ratio}})
	return spliced
}

// contextmgrRecoveredFileSource aliases contextmgr.RecoveredFileSource
// so this file doesn't need the package import just for the type name
// in runCompression's local variable declaration.
type contextmgrRecoveredFileSource = interface {
	RecentlyAccessed(limit int) []*models.RecoveredFile
}
