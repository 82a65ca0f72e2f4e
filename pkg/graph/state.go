// Package graph executes directed workflows over a shared typed state.
//
// A workflow is a set of named nodes connected by static or conditional
// edges. Nodes receive an immutable snapshot of the state and return a
// partial Update; the reducer folds updates back into the canonical state
// one at a time, so parallel branches never write concurrently. Conditional
// edges are evaluated only after every node of a superstep has finished and
// its update is merged.
package graph

import (
	"maps"
	"slices"
	"time"
)

// Status is the workflow lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether no further node execution is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Workflow types accepted at submission.
const (
	WorkflowFeatureDevelopment = "feature_development"
	WorkflowBugFix             = "bug_fix"
	WorkflowInfrastructure     = "infrastructure"
	WorkflowAnalysis           = "analysis"
	WorkflowDocumentation      = "documentation"
)

// Record statuses.
const (
	RecordCompleted = "completed"
	RecordFailed    = "failed"
)

// Record is the outcome of one agent task. Records are immutable once
// appended to state.
type Record struct {
	Status       string   `json:"status"` // completed, failed
	Summary      string   `json:"summary,omitempty"`
	FilesCreated []string `json:"files_created,omitempty"`
	Role         string   `json:"role"`
	TaskID       string   `json:"task_id"`
	RawOutput    string   `json:"raw_output,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// StepError records a node failure without stopping the workflow.
type StepError struct {
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the shared workflow state. Every field carries a merge policy
// applied by Apply: identity and lifecycle fields replace, context
// shallow-merges, per-node record sequences and error/file lists append.
type State struct {
	Requirement    string         `json:"requirement"`
	BugDescription string         `json:"bug_description,omitempty"`
	WorkflowType   string         `json:"workflow_type"`
	WorkflowID     string         `json:"workflow_id"`
	Context        map[string]any `json:"context,omitempty"`

	BusinessAnalysis []Record `json:"business_analysis,omitempty"`
	Architecture     []Record `json:"architecture,omitempty"`
	Implementation   []Record `json:"implementation,omitempty"`
	Tests            []Record `json:"tests,omitempty"`
	Infrastructure   []Record `json:"infrastructure,omitempty"`
	Documentation    []Record `json:"documentation,omitempty"`

	BugAnalysis     *Record `json:"bug_analysis,omitempty"`
	BugFix          *Record `json:"bug_fix,omitempty"`
	RegressionTests *Record `json:"regression_tests,omitempty"`
	ReleaseNotes    *Record `json:"release_notes,omitempty"`

	Errors       []StepError `json:"errors,omitempty"`
	FilesCreated []string    `json:"files_created,omitempty"`

	CurrentStep    string   `json:"current_step"`
	CompletedSteps []string `json:"completed_steps,omitempty"`
	Status         Status   `json:"status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RequiresApproval bool   `json:"requires_approval,omitempty"`
	Approved         *bool  `json:"approved,omitempty"`
	ApprovalNotes    string `json:"approval_notes,omitempty"`
}

// Clone returns a deep copy. Nodes receive clones so a node mutating its
// snapshot can never leak into the canonical state or into a sibling
// running in parallel.
func (s State) Clone() State {
	out := s

	out.Context = maps.Clone(s.Context)

	out.BusinessAnalysis = slices.Clone(s.BusinessAnalysis)
	out.Architecture = slices.Clone(s.Architecture)
	out.Implementation = slices.Clone(s.Implementation)
	out.Tests = slices.Clone(s.Tests)
	out.Infrastructure = slices.Clone(s.Infrastructure)
	out.Documentation = slices.Clone(s.Documentation)

	out.BugAnalysis = cloneRecord(s.BugAnalysis)
	out.BugFix = cloneRecord(s.BugFix)
	out.RegressionTests = cloneRecord(s.RegressionTests)
	out.ReleaseNotes = cloneRecord(s.ReleaseNotes)

	out.Errors = slices.Clone(s.Errors)
	out.FilesCreated = slices.Clone(s.FilesCreated)
	out.CompletedSteps = slices.Clone(s.CompletedSteps)

	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	out.Approved = cloneBool(s.Approved)

	return out
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.FilesCreated = slices.Clone(r.FilesCreated)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// HasErrorsFor reports whether any recorded error belongs to the given step.
func (s State) HasErrorsFor(step string) bool {
	for _, e := range s.Errors {
		if e.Step == step {
			return true
		}
	}
	return false
}

// CompletedStep reports whether the named step appears in CompletedSteps.
func (s State) CompletedStep(step string) bool {
	return slices.Contains(s.CompletedSteps, step)
}
