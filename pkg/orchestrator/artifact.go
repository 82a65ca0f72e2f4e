package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crewflow/crewflow/pkg/graph"
)

// Artifact is the JSON summary written when a workflow reaches a terminal
// status. It is the machine-readable receipt for one run: what was asked,
// what happened, and which files came out of it.
type Artifact struct {
	WorkflowID     string            `json:"workflow_id"`
	WorkflowType   string            `json:"workflow_type"`
	Status         string            `json:"status"`
	Requirement    string            `json:"requirement"`
	CompletedSteps []string          `json:"completed_steps"`
	FilesCreated   []string          `json:"files_created"`
	Errors         []graph.StepError `json:"errors"`
	StartedAt      string            `json:"started_at"`
	CompletedAt    string            `json:"completed_at"`
}

func artifactFromState(s graph.State) Artifact {
	a := Artifact{
		WorkflowID:     s.WorkflowID,
		WorkflowType:   s.WorkflowType,
		Status:         string(s.Status),
		Requirement:    s.Requirement,
		CompletedSteps: s.CompletedSteps,
		FilesCreated:   s.FilesCreated,
		Errors:         s.Errors,
	}
	// Consumers expect lists, not nulls.
	if a.CompletedSteps == nil {
		a.CompletedSteps = []string{}
	}
	if a.FilesCreated == nil {
		a.FilesCreated = []string{}
	}
	if a.Errors == nil {
		a.Errors = []graph.StepError{}
	}
	if s.StartedAt != nil {
		a.StartedAt = s.StartedAt.Format(time.RFC3339Nano)
	}
	if s.CompletedAt != nil {
		a.CompletedAt = s.CompletedAt.Format(time.RFC3339Nano)
	}
	return a
}

// ArtifactPath returns where the summary for the given workflow is written.
func ArtifactPath(dir, workflowID string) string {
	return filepath.Join(dir, fmt.Sprintf("langgraph_%s.json", workflowID))
}

// WriteArtifact writes the workflow summary to
// <dir>/langgraph_<workflow_id>.json via temp file and rename, so observers
// polling the directory never read a partial document. It returns the final
// path.
func WriteArtifact(dir string, s graph.State) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	data, err := json.MarshalIndent(artifactFromState(s), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding artifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("creating temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("closing artifact: %w", err)
	}

	path := ArtifactPath(dir, s.WorkflowID)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publishing artifact: %w", err)
	}
	return path, nil
}
