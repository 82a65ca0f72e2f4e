package graph

import "time"

// Update is a partial state change returned by a node. Zero-valued fields
// are left untouched by Apply, so a node only populates what it produced.
// Replace-policy fields that must be able to carry an explicit zero
// (timestamps, approval flags) are pointers.
type Update struct {
	Requirement    string
	BugDescription string
	WorkflowType   string
	WorkflowID     string
	Context        map[string]any

	BusinessAnalysis []Record
	Architecture     []Record
	Implementation   []Record
	Tests            []Record
	Infrastructure   []Record
	Documentation    []Record

	BugAnalysis     *Record
	BugFix          *Record
	RegressionTests *Record
	ReleaseNotes    *Record

	Errors       []StepError
	FilesCreated []string

	CurrentStep    string
	CompletedSteps []string
	Status         Status

	StartedAt   *time.Time
	CompletedAt *time.Time

	RequiresApproval *bool
	Approved         *bool
	ApprovalNotes    string
}

// Apply folds an update into the previous state and returns the new state.
// Append-policy fields copy the destination slice before extending it, so
// snapshots held elsewhere never observe the mutation. Apply never removes
// or reorders existing entries.
func Apply(prev State, u Update) State {
	next := prev

	if u.Requirement != "" {
		next.Requirement = u.Requirement
	}
	if u.BugDescription != "" {
		next.BugDescription = u.BugDescription
	}
	if u.WorkflowType != "" {
		next.WorkflowType = u.WorkflowType
	}
	if u.WorkflowID != "" {
		next.WorkflowID = u.WorkflowID
	}
	if len(u.Context) > 0 {
		merged := make(map[string]any, len(prev.Context)+len(u.Context))
		for k, v := range prev.Context {
			merged[k] = v
		}
		for k, v := range u.Context {
			merged[k] = v
		}
		next.Context = merged
	}

	next.BusinessAnalysis = appendCopy(prev.BusinessAnalysis, u.BusinessAnalysis)
	next.Architecture = appendCopy(prev.Architecture, u.Architecture)
	next.Implementation = appendCopy(prev.Implementation, u.Implementation)
	next.Tests = appendCopy(prev.Tests, u.Tests)
	next.Infrastructure = appendCopy(prev.Infrastructure, u.Infrastructure)
	next.Documentation = appendCopy(prev.Documentation, u.Documentation)

	if u.BugAnalysis != nil {
		next.BugAnalysis = cloneRecord(u.BugAnalysis)
	}
	if u.BugFix != nil {
		next.BugFix = cloneRecord(u.BugFix)
	}
	if u.RegressionTests != nil {
		next.RegressionTests = cloneRecord(u.RegressionTests)
	}
	if u.ReleaseNotes != nil {
		next.ReleaseNotes = cloneRecord(u.ReleaseNotes)
	}

	next.Errors = appendCopy(prev.Errors, u.Errors)
	next.FilesCreated = appendCopy(prev.FilesCreated, u.FilesCreated)
	next.CompletedSteps = appendCopy(prev.CompletedSteps, u.CompletedSteps)

	if u.CurrentStep != "" {
		next.CurrentStep = u.CurrentStep
	}
	if u.Status != "" {
		next.Status = u.Status
	}

	if u.StartedAt != nil {
		next.StartedAt = cloneTime(u.StartedAt)
	}
	if u.CompletedAt != nil {
		next.CompletedAt = cloneTime(u.CompletedAt)
	}

	if u.RequiresApproval != nil {
		next.RequiresApproval = *u.RequiresApproval
	}
	if u.Approved != nil {
		next.Approved = cloneBool(u.Approved)
	}
	if u.ApprovalNotes != "" {
		next.ApprovalNotes = u.ApprovalNotes
	}

	return next
}

// appendCopy extends dst with add on a fresh backing array so state
// snapshots taken earlier never observe the growth.
func appendCopy[T any](dst, add []T) []T {
	if len(add) == 0 {
		return dst
	}
	out := make([]T, len(dst), len(dst)+len(add))
	copy(out, dst)
	return append(out, add...)
}
