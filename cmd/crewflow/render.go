package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/crewflow/crewflow/pkg/events"
)

// renderer turns workflow events into terminal lines, one line per event, in
// the manner of a group chat between the agents. Streamed completion text is
// written raw as it arrives, under a header naming the agent speaking; event
// lines never share a line with streamed text.
type renderer struct {
	mu sync.Mutex
	w  io.Writer

	midLine   bool   // last write did not end with a newline
	lastRole  string // agent whose stream we are currently printing
	statusKey string // dedupe key for workflow_status lines
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

// Chunk writes one streamed completion delta. A header line naming the agent
// is printed whenever the speaking role changes.
func (r *renderer) Chunk(role, delta string) {
	if delta == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if role != r.lastRole {
		r.breakLine()
		fmt.Fprintf(r.w, "💬 %s:\n", titleWords(role))
		r.lastRole = role
	}
	fmt.Fprint(r.w, delta)
	r.midLine = !strings.HasSuffix(delta, "\n")
}

// Event renders one workflow event.
func (r *renderer) Event(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, ok := r.line(e)
	if !ok {
		return
	}

	r.breakLine()
	// The next chunk re-prints its header so streamed text interrupted by
	// an event line stays attributable.
	r.lastRole = ""
	fmt.Fprintln(r.w, line)
}

// breakLine terminates a partially written stream line.
func (r *renderer) breakLine() {
	if r.midLine {
		fmt.Fprintln(r.w)
		r.midLine = false
	}
}

func (r *renderer) line(e events.Event) (string, bool) {
	switch p := e.(type) {
	case events.WorkflowStartedPayload:
		return fmt.Sprintf("🚀 Workflow %s started (%s)", p.WorkflowID, p.WorkflowType), true

	case events.NodeStartedPayload:
		return fmt.Sprintf("⚙ %s started %s", titleWords(p.Role), p.NodeName), true

	case events.NodeActionPayload:
		return fmt.Sprintf("⚙ %s: %s%s", p.NodeName, p.Description, formatDetails(p.Details)), true

	case events.NodeCompletedPayload:
		line := fmt.Sprintf("✅ %s completed", p.NodeName)
		if summary := firstLine(p.Summary); summary != "" {
			line += ": " + summary
		}
		if n := len(p.FilesCreated); n > 0 {
			line += fmt.Sprintf(" (%d files)", n)
		}
		return line, true

	case events.NodeFailedPayload:
		return fmt.Sprintf("❌ %s failed: %s", p.NodeName, p.Error), true

	case events.HandoffPayload:
		return fmt.Sprintf("🔄 %s → %s", titleWords(p.FromNode), titleWords(p.ToNode)), true

	case events.ParallelStartPayload:
		return fmt.Sprintf("⚡ Parallel execution: %s", joinTitled(p.Targets)), true

	case events.ParallelCompletePayload:
		return fmt.Sprintf("✅ Parallel complete: %s", joinTitled(p.Targets)), true

	case events.WorkflowStatusPayload:
		// Reductions that did not move the workflow repeat the same
		// status and step; show each position once.
		key := p.Status + "\x00" + p.CurrentStep
		if key == r.statusKey {
			return "", false
		}
		r.statusKey = key
		return fmt.Sprintf("ℹ %s · step %s · %d steps completed",
			p.Status, p.CurrentStep, len(uniqueSteps(p.CompletedSteps))), true

	case events.WorkflowCompletedPayload:
		icon := "✅"
		if p.Status != "completed" {
			icon = "❌"
		}
		return fmt.Sprintf("%s Workflow %s %s", icon, p.WorkflowID, p.Status), true

	default:
		return "", false
	}
}

// titleWords renders an identifier like "business_analyst" as
// "Business Analyst".
func titleWords(id string) string {
	words := strings.Split(id, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func joinTitled(ids []string) string {
	titled := make([]string, len(ids))
	for i, id := range ids {
		titled[i] = titleWords(id)
	}
	return strings.Join(titled, " & ")
}

func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, details[k])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

const maxSummaryLine = 100

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if len(s) > maxSummaryLine {
		s = s[:maxSummaryLine-3] + "..."
	}
	return s
}
