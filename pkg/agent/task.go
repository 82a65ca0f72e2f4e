package agent

import "time"

// Task is one unit of agent work. Context carries upstream results the
// prompt builder digests; InputFiles name workspace files whose contents are
// appended to the prompt.
type Task struct {
	ID           string
	Description  string
	Context      map[string]any
	InputFiles   []string
	Dependencies []string
	CreatedAt    time.Time
}

// NewTask builds a task stamped with the current time.
func NewTask(id, description string, taskContext map[string]any) Task {
	return Task{
		ID:          id,
		Description: description,
		Context:     taskContext,
		CreatedAt:   time.Now(),
	}
}
