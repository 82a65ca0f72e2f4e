package events

// WorkflowStartedPayload is published once when a workflow begins executing.
type WorkflowStartedPayload struct {
	Type         string `json:"type"` // always EventTypeWorkflowStarted
	EventID      string `json:"event_id"`
	WorkflowID   string `json:"workflow_id"`
	WorkflowType string `json:"workflow_type"` // feature_development, bug_fix
	Requirement  string `json:"requirement"`
	StartedAt    string `json:"started_at"` // RFC3339Nano
	Timestamp    string `json:"timestamp"`  // RFC3339Nano
}

func (WorkflowStartedPayload) EventType() string { return EventTypeWorkflowStarted }

// NodeStartedPayload is published when a graph node begins executing.
type NodeStartedPayload struct {
	Type       string `json:"type"` // always EventTypeNodeStarted
	EventID    string `json:"event_id"`
	WorkflowID string `json:"workflow_id"`
	NodeName   string `json:"node_name"`
	Role       string `json:"role"` // agent role executing the node
	Timestamp  string `json:"timestamp"`
}

func (NodeStartedPayload) EventType() string { return EventTypeNodeStarted }

// NodeActionPayload is published for notable steps inside a node, such as an
// LLM call starting or generated files landing on disk.
type NodeActionPayload struct {
	Type        string         `json:"type"` // always EventTypeNodeAction
	EventID     string         `json:"event_id"`
	WorkflowID  string         `json:"workflow_id"`
	NodeName    string         `json:"node_name"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

func (NodeActionPayload) EventType() string { return EventTypeNodeAction }

// NodeCompletedPayload is published when a node finishes successfully.
type NodeCompletedPayload struct {
	Type         string   `json:"type"` // always EventTypeNodeCompleted
	EventID      string   `json:"event_id"`
	WorkflowID   string   `json:"workflow_id"`
	NodeName     string   `json:"node_name"`
	Summary      string   `json:"summary"`
	FilesCreated []string `json:"files_created"`
	Timestamp    string   `json:"timestamp"`
}

func (NodeCompletedPayload) EventType() string { return EventTypeNodeCompleted }

// NodeFailedPayload is published when a node records a failure.
type NodeFailedPayload struct {
	Type       string `json:"type"` // always EventTypeNodeFailed
	EventID    string `json:"event_id"`
	WorkflowID string `json:"workflow_id"`
	NodeName   string `json:"node_name"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
}

func (NodeFailedPayload) EventType() string { return EventTypeNodeFailed }

// HandoffPayload is published when one agent's output becomes another's
// input along a graph edge.
type HandoffPayload struct {
	Type       string `json:"type"` // always EventTypeHandoff
	EventID    string `json:"event_id"`
	WorkflowID string `json:"workflow_id"`
	FromNode   string `json:"from_node"`
	ToNode     string `json:"to_node"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

func (HandoffPayload) EventType() string { return EventTypeHandoff }

// ParallelStartPayload is published when the engine fans out to multiple
// nodes in the same superstep.
type ParallelStartPayload struct {
	Type       string   `json:"type"` // always EventTypeParallelStart
	EventID    string   `json:"event_id"`
	WorkflowID string   `json:"workflow_id"`
	Targets    []string `json:"targets"`
	Timestamp  string   `json:"timestamp"`
}

func (ParallelStartPayload) EventType() string { return EventTypeParallelStart }

// ParallelCompletePayload is published when every node of a parallel
// fan-out has finished and its updates are merged.
type ParallelCompletePayload struct {
	Type       string   `json:"type"` // always EventTypeParallelComplete
	EventID    string   `json:"event_id"`
	WorkflowID string   `json:"workflow_id"`
	Targets    []string `json:"targets"`
	Timestamp  string   `json:"timestamp"`
}

func (ParallelCompletePayload) EventType() string { return EventTypeParallelComplete }

// WorkflowStatusPayload is published after each reduction with the
// workflow's current position.
type WorkflowStatusPayload struct {
	Type           string   `json:"type"` // always EventTypeWorkflowStatus
	EventID        string   `json:"event_id"`
	WorkflowID     string   `json:"workflow_id"`
	Status         string   `json:"status"`
	CurrentStep    string   `json:"current_step"`
	CompletedSteps []string `json:"completed_steps"`
	Timestamp      string   `json:"timestamp"`
}

func (WorkflowStatusPayload) EventType() string { return EventTypeWorkflowStatus }

// WorkflowCompletedPayload is published once when a workflow reaches a
// terminal status, whatever that status is.
type WorkflowCompletedPayload struct {
	Type        string `json:"type"` // always EventTypeWorkflowCompleted
	EventID     string `json:"event_id"`
	WorkflowID  string `json:"workflow_id"`
	Status      string `json:"status"` // completed, failed, cancelled
	CompletedAt string `json:"completed_at"`
	Timestamp   string `json:"timestamp"`
}

func (WorkflowCompletedPayload) EventType() string { return EventTypeWorkflowCompleted }
