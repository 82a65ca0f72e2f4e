// Package events delivers workflow progress to in-process subscribers.
//
// The orchestrator publishes a typed payload for every observable moment of
// a run: workflow lifecycle transitions, node starts and completions,
// handoffs between agents, and parallel fan-out boundaries. Delivery is
// best-effort: a subscriber that stops draining its channel loses events
// rather than stalling node execution.
package events

// Event is the envelope delivered to subscribers. Concrete payload types
// live in payloads.go; consumers type-switch on the payload or dispatch on
// EventType.
type Event interface {
	EventType() string
}

// Event type names, as they appear in each payload's "type" field.
const (
	EventTypeWorkflowStarted   = "workflow_started"
	EventTypeNodeStarted       = "node_started"
	EventTypeNodeAction        = "node_action"
	EventTypeNodeCompleted     = "node_completed"
	EventTypeNodeFailed        = "node_failed"
	EventTypeHandoff           = "inter_agent_handoff"
	EventTypeParallelStart     = "parallel_start"
	EventTypeParallelComplete  = "parallel_complete"
	EventTypeWorkflowStatus    = "workflow_status"
	EventTypeWorkflowCompleted = "workflow_completed"
)
