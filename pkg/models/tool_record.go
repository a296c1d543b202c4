package models

import (
	"encoding/json"
	"time"
)

// ToolCallState is a node in the tool call record's state DAG:
//
//	PENDING -> (APPROVAL_REQUIRED -> APPROVED|DENIED) -> EXECUTING -> COMPLETED|FAILED
//
// plus the terminal SEALED state reachable from any non-terminal state.
type ToolCallState string

const (
	ToolStatePending          ToolCallState = "PENDING"
	ToolStateApprovalRequired ToolCallState = "APPROVAL_REQUIRED"
	ToolStateApproved         ToolCallState = "APPROVED"
	ToolStateDenied           ToolCallState = "DENIED"
	ToolStateExecuting        ToolCallState = "EXECUTING"
	ToolStateCompleted        ToolCallState = "COMPLETED"
	ToolStateFailed           ToolCallState = "FAILED"
	ToolStateSealed           ToolCallState = "SEALED"
)

// Terminal reports whether the state has no outgoing transitions.
func (s ToolCallState) Terminal() bool {
	switch s {
	case ToolStateCompleted, ToolStateFailed, ToolStateDenied, ToolStateSealed:
		return true
	default:
		return false
	}
}

// ToolErrorType classifies a tool execution failure for retry logic and
// for the recommendation templates surfaced to the model.
type ToolErrorType string

const (
	ToolErrorValidation ToolErrorType = "validation"
	ToolErrorRuntime    ToolErrorType = "runtime"
	ToolErrorLogical    ToolErrorType = "logical"
	ToolErrorAborted    ToolErrorType = "aborted"
	ToolErrorException  ToolErrorType = "exception"
)

// Retryable reports whether a failure of this type may succeed on retry.
// Validation errors are never retryable without changing the input.
func (t ToolErrorType) Retryable() bool {
	return t != ToolErrorValidation
}

// AuditEntry records one state transition of a ToolCallRecord.
type AuditEntry struct {
	State     ToolCallState `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
	Note      string        `json:"note,omitempty"`
}

// ToolCallRecord tracks the full lifecycle of one tool_use invocation.
type ToolCallRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Input       json.RawMessage `json:"input"`
	State       ToolCallState   `json:"state"`
	Approval    ToolCallState   `json:"approval,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorType   ToolErrorType   `json:"error_type,omitempty"`
	Error       string          `json:"error,omitempty"`
	IsError     bool            `json:"is_error"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	AuditTrail  []AuditEntry    `json:"audit_trail"`
}

// Transition appends an audit entry and updates the record's current
// state. Callers are responsible for validating the edge is legal.
func (r *ToolCallRecord) Transition(state ToolCallState, note string) {
	now := time.Now()
	r.State = state
	r.UpdatedAt = now
	r.AuditTrail = append(r.AuditTrail, AuditEntry{State: state, Timestamp: now, Note: note})

	switch state {
	case ToolStateExecuting:
		if r.StartedAt == nil {
			r.StartedAt = &now
		}
	case ToolStateCompleted, ToolStateFailed, ToolStateDenied, ToolStateSealed:
		r.CompletedAt = &now
		if r.StartedAt != nil {
			r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
		}
	}
}

// NewToolCallRecord creates a record in PENDING state with an initial
// audit entry, the only legal starting point for the state DAG.
func NewToolCallRecord(id, name string, input json.RawMessage) *ToolCallRecord {
	now := time.Now()
	return &ToolCallRecord{
		ID:         id,
		Name:       name,
		Input:      input,
		State:      ToolStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
		AuditTrail: []AuditEntry{{State: ToolStatePending, Timestamp: now}},
	}
}
