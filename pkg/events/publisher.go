package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher fans events out to registered subscribers. Sends never block:
// when a subscriber's buffer is full the event is dropped for that
// subscriber and a warning logged. A nil *Publisher is valid and publishes
// nothing, so components can run unobserved.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Subscription is one registered consumer. Close it to stop receiving;
// the channel is closed afterwards.
type Subscription struct {
	C <-chan Event

	id   int
	p    *Publisher
	once sync.Once
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.p.mu.Lock()
		ch, ok := s.p.subs[s.id]
		delete(s.p.subs, s.id)
		s.p.mu.Unlock()
		if ok {
			close(ch)
		}
	})
}

// Subscribe registers a consumer with the given channel buffer. A buffer of
// zero is raised to one so at least one in-flight event fits.
func (p *Publisher) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	return &Subscription{C: ch, id: id, p: p}
}

// Publish delivers an event to every subscriber without blocking.
func (p *Publisher) Publish(e Event) {
	if p == nil {
		return
	}

	p.mu.RLock()
	chans := make([]chan Event, 0, len(p.subs))
	ids := make([]int, 0, len(p.subs))
	for id, ch := range p.subs {
		chans = append(chans, ch)
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for i, ch := range chans {
		select {
		case ch <- e:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"event", e.EventType(), "subscriber", ids[i])
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (p *Publisher) SubscriberCount() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

func (p *Publisher) timestamp() string {
	if p == nil {
		return time.Now().Format(time.RFC3339Nano)
	}
	return p.now().Format(time.RFC3339Nano)
}

// --- Typed publish helpers ---

// WorkflowStarted announces a new run.
func (p *Publisher) WorkflowStarted(workflowID, workflowType, requirement string, startedAt time.Time) {
	p.Publish(WorkflowStartedPayload{
		Type:         EventTypeWorkflowStarted,
		EventID:      uuid.NewString(),
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		Requirement:  requirement,
		StartedAt:    startedAt.Format(time.RFC3339Nano),
		Timestamp:    p.timestamp(),
	})
}

// NodeStarted announces that a node began executing under the given role.
func (p *Publisher) NodeStarted(workflowID, nodeName, role string) {
	p.Publish(NodeStartedPayload{
		Type:       EventTypeNodeStarted,
		EventID:    uuid.NewString(),
		WorkflowID: workflowID,
		NodeName:   nodeName,
		Role:       role,
		Timestamp:  p.timestamp(),
	})
}

// NodeAction reports a notable step inside a running node.
func (p *Publisher) NodeAction(workflowID, nodeName, description string, details map[string]any) {
	p.Publish(NodeActionPayload{
		Type:        EventTypeNodeAction,
		EventID:     uuid.NewString(),
		WorkflowID:  workflowID,
		NodeName:    nodeName,
		Description: description,
		Details:     details,
		Timestamp:   p.timestamp(),
	})
}

// NodeCompleted reports a successful node outcome.
func (p *Publisher) NodeCompleted(workflowID, nodeName, summary string, filesCreated []string) {
	p.Publish(NodeCompletedPayload{
		Type:         EventTypeNodeCompleted,
		EventID:      uuid.NewString(),
		WorkflowID:   workflowID,
		NodeName:     nodeName,
		Summary:      summary,
		FilesCreated: filesCreated,
		Timestamp:    p.timestamp(),
	})
}

// NodeFailed reports a node failure.
func (p *Publisher) NodeFailed(workflowID, nodeName, errMsg string) {
	p.Publish(NodeFailedPayload{
		Type:       EventTypeNodeFailed,
		EventID:    uuid.NewString(),
		WorkflowID: workflowID,
		NodeName:   nodeName,
		Error:      errMsg,
		Timestamp:  p.timestamp(),
	})
}

// Handoff reports that output from one node feeds the next.
func (p *Publisher) Handoff(workflowID, fromNode, toNode, message string) {
	p.Publish(HandoffPayload{
		Type:       EventTypeHandoff,
		EventID:    uuid.NewString(),
		WorkflowID: workflowID,
		FromNode:   fromNode,
		ToNode:     toNode,
		Message:    message,
		Timestamp:  p.timestamp(),
	})
}

// ParallelStart reports a fan-out to concurrently executing targets.
func (p *Publisher) ParallelStart(workflowID string, targets []string) {
	p.Publish(ParallelStartPayload{
		Type:       EventTypeParallelStart,
		EventID:    uuid.NewString(),
		WorkflowID: workflowID,
		Targets:    targets,
		Timestamp:  p.timestamp(),
	})
}

// ParallelComplete reports that all fan-out targets finished.
func (p *Publisher) ParallelComplete(workflowID string, targets []string) {
	p.Publish(ParallelCompletePayload{
		Type:       EventTypeParallelComplete,
		EventID:    uuid.NewString(),
		WorkflowID: workflowID,
		Targets:    targets,
		Timestamp:  p.timestamp(),
	})
}

// WorkflowStatus reports the position of a run after a reduction.
func (p *Publisher) WorkflowStatus(workflowID, status, currentStep string, completedSteps []string) {
	p.Publish(WorkflowStatusPayload{
		Type:           EventTypeWorkflowStatus,
		EventID:        uuid.NewString(),
		WorkflowID:     workflowID,
		Status:         status,
		CurrentStep:    currentStep,
		CompletedSteps: completedSteps,
		Timestamp:      p.timestamp(),
	})
}

// WorkflowCompleted reports the terminal outcome of a run.
func (p *Publisher) WorkflowCompleted(workflowID, status string, completedAt time.Time) {
	p.Publish(WorkflowCompletedPayload{
		Type:        EventTypeWorkflowCompleted,
		EventID:     uuid.NewString(),
		WorkflowID:  workflowID,
		Status:      status,
		CompletedAt: completedAt.Format(time.RFC3339Nano),
		Timestamp:   p.timestamp(),
	})
}
