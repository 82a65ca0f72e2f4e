package orchestrator

import (
	"fmt"
	"sync"

	"github.com/crewflow/crewflow/pkg/events"
	"github.com/crewflow/crewflow/pkg/graph"
)

// engineEmitter translates engine callbacks into published events. It owns
// no state beyond the workflow identity, so the engine may call it from
// node goroutines.
type engineEmitter struct {
	pub        *events.Publisher
	workflowID string
	roles      map[string]string
}

func newEngineEmitter(pub *events.Publisher, workflowID string, roles map[string]string) *engineEmitter {
	return &engineEmitter{pub: pub, workflowID: workflowID, roles: roles}
}

func (e *engineEmitter) NodeStarted(node string) {
	e.pub.NodeStarted(e.workflowID, node, e.roles[node])
}

func (e *engineEmitter) NodeFinished(node string, u graph.Update, s graph.State) {
	if rec, ok := updateRecord(u); ok {
		if rec.Status == graph.RecordFailed {
			e.pub.NodeFailed(e.workflowID, node, rec.Error)
			return
		}
		e.pub.NodeCompleted(e.workflowID, node, rec.Summary, rec.FilesCreated)
		return
	}
	if n := len(u.Errors); n > 0 {
		e.pub.NodeFailed(e.workflowID, node, u.Errors[n-1].Error)
		return
	}
	e.pub.NodeCompleted(e.workflowID, node, "", nil)
}

func (e *engineEmitter) Routed(from string, route graph.Route) {
	switch {
	case route.Terminal:
	case route.To != "":
		e.pub.Handoff(e.workflowID, from, route.To, handoffMessage(from, route.To))
	default:
		for _, target := range route.Sends {
			e.pub.Handoff(e.workflowID, from, target, handoffMessage(from, target))
		}
	}
}

func (e *engineEmitter) ParallelStarted(targets []string) {
	e.pub.ParallelStart(e.workflowID, targets)
}

func (e *engineEmitter) ParallelFinished(targets []string) {
	e.pub.ParallelComplete(e.workflowID, targets)
}

func handoffMessage(from, to string) string {
	return fmt.Sprintf("%s finished, handing results to %s", from, to)
}

// updateRecord extracts the record a node update carries, if any. Node
// updates set at most one record field.
func updateRecord(u graph.Update) (graph.Record, bool) {
	for _, list := range [][]graph.Record{
		u.BusinessAnalysis, u.Architecture, u.Implementation,
		u.Tests, u.Infrastructure, u.Documentation,
	} {
		if len(list) > 0 {
			return list[len(list)-1], true
		}
	}
	for _, rec := range []*graph.Record{u.BugAnalysis, u.BugFix, u.RegressionTests, u.ReleaseNotes} {
		if rec != nil {
			return *rec, true
		}
	}
	return graph.Record{}, false
}

// taskOrigin ties a running task back to the workflow and node that spawned
// it, so events published from inside the agent runner carry graph-level
// names.
type taskOrigin struct {
	workflowID string
	node       string
}

type taskRegistry struct {
	mu sync.RWMutex
	m  map[string]taskOrigin
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{m: make(map[string]taskOrigin)}
}

func (r *taskRegistry) register(taskID string, origin taskOrigin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[taskID] = origin
}

func (r *taskRegistry) unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, taskID)
}

func (r *taskRegistry) lookup(taskID string) (taskOrigin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	origin, ok := r.m[taskID]
	return origin, ok
}

// runnerNotifier forwards agent runner callbacks: actions become node_action
// events, streamed deltas go to the OnChunk callback.
type runnerNotifier struct {
	pub     *events.Publisher
	tasks   *taskRegistry
	onChunk func(role, delta string)
}

func (n *runnerNotifier) TaskAction(role, taskID, description string, details map[string]any) {
	origin, ok := n.tasks.lookup(taskID)
	if !ok {
		return
	}
	n.pub.NodeAction(origin.workflowID, origin.node, description, details)
}

func (n *runnerNotifier) TaskChunk(role, taskID, delta string) {
	if n.onChunk != nil {
		n.onChunk(role, delta)
	}
}
