// Package e2e runs complete workflows against a mock OpenAI-compatible
// endpoint: real HTTP and SSE streaming, real retry and breaker behavior,
// real checkpoints and generated files on disk. Only the model is scripted.
package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// ScriptEntry defines one scripted completion response.
type ScriptEntry struct {
	// Text is the assistant message returned on success.
	Text string

	// Status, when non-zero, makes the endpoint answer with this HTTP
	// status and Message as the OpenAI-style error body instead of a
	// completion.
	Status  int
	Message string

	// BlockUntilCancelled parks the request until the client gives up,
	// simulating a hung endpoint. OnBlock, when set, is signalled as the
	// request starts blocking.
	BlockUntilCancelled bool
	OnBlock             chan<- struct{}
}

// CapturedRequest is one decoded completion request.
type CapturedRequest struct {
	TaskType    string // parsed from the "- task_type:" context line
	Model       string
	System      string
	User        string
	Stream      bool
	MaxTokens   int
	Temperature float32
}

// MockLLM is an httptest server speaking the chat-completions wire, with a
// dual-dispatch script: entries routed by task type for stages whose call
// order is non-deterministic, plus a sequential fallback.
type MockLLM struct {
	server *httptest.Server

	mu         sync.Mutex
	routes     map[string][]ScriptEntry
	routeIndex map[string]int
	sequential []ScriptEntry
	seqIndex   int
	requests   []CapturedRequest
}

// NewMockLLM starts the endpoint.
func NewMockLLM() *MockLLM {
	m := &MockLLM{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the base URL to put into the LLM config.
func (m *MockLLM) URL() string { return m.server.URL + "/v1" }

// Close shuts the endpoint down, waiting for in-flight handlers.
func (m *MockLLM) Close() { m.server.Close() }

// AddRouted queues an entry consumed by requests whose task type matches.
func (m *MockLLM) AddRouted(taskType string, entry ScriptEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[taskType] = append(m.routes[taskType], entry)
}

// AddSequential queues an entry consumed in arrival order by requests with
// no routed script.
func (m *MockLLM) AddSequential(entry ScriptEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequential = append(m.sequential, entry)
}

// Requests returns every captured request in arrival order.
func (m *MockLLM) Requests() []CapturedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CapturedRequest(nil), m.requests...)
}

// RequestCount returns how many completion requests arrived.
func (m *MockLLM) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// RequestsFor returns the captured requests carrying the given task type.
func (m *MockLLM) RequestsFor(taskType string) []CapturedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CapturedRequest
	for _, r := range m.requests {
		if r.TaskType == taskType {
			out = append(out, r)
		}
	}
	return out
}

func (m *MockLLM) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWireError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	captured := captureRequest(req)

	m.mu.Lock()
	m.requests = append(m.requests, captured)
	entry, err := m.nextEntry(captured.TaskType)
	m.mu.Unlock()

	if err != nil {
		writeWireError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-r.Context().Done()
		return
	}
	if entry.Status != 0 {
		writeWireError(w, entry.Status, entry.Message)
		return
	}

	if req.Stream {
		writeStream(w, req.Model, entry.Text)
		return
	}
	writeCompletion(w, req.Model, entry.Text)
}

// nextEntry picks the routed script for the task type when one exists,
// falling back to the sequential script. Must be called with mu held.
func (m *MockLLM) nextEntry(taskType string) (ScriptEntry, error) {
	if entries, ok := m.routes[taskType]; ok {
		idx := m.routeIndex[taskType]
		if idx < len(entries) {
			m.routeIndex[taskType] = idx + 1
			return entries[idx], nil
		}
	}
	if m.seqIndex < len(m.sequential) {
		entry := m.sequential[m.seqIndex]
		m.seqIndex++
		return entry, nil
	}
	return ScriptEntry{}, fmt.Errorf("mock llm: no scripted response left (task_type=%q, sequential=%d/%d)",
		taskType, m.seqIndex, len(m.sequential))
}

func captureRequest(req openai.ChatCompletionRequest) CapturedRequest {
	c := CapturedRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			c.System = msg.Content
		case openai.ChatMessageRoleUser:
			c.User = msg.Content
		}
	}
	c.TaskType = taskTypeOf(c.User)
	return c
}

// taskTypeOf pulls the task type out of the prompt's context dump, which
// renders context as "- key: value" lines.
func taskTypeOf(user string) string {
	for _, line := range strings.Split(user, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "- task_type: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func writeWireError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}

// writeCompletion answers with a single chat.completion document.
func writeCompletion(w http.ResponseWriter, model, text string) {
	resp := openai.ChatCompletionResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: 1,
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: text,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 40, TotalTokens: 52},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeStream answers with SSE chunks, splitting the text into several
// deltas so collectors see a real multi-chunk stream.
func writeStream(w http.ResponseWriter, model, text string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for _, delta := range splitDeltas(text, 40) {
		writeStreamEvent(w, openai.ChatCompletionStreamResponse{
			ID:      "chatcmpl-mock",
			Object:  "chat.completion.chunk",
			Created: 1,
			Model:   model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: delta},
			}},
		})
		flush()
	}
	writeStreamEvent(w, openai.ChatCompletionStreamResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion.chunk",
		Created: 1,
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			FinishReason: openai.FinishReasonStop,
		}},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush()
}

func writeStreamEvent(w http.ResponseWriter, resp openai.ChatCompletionStreamResponse) {
	data, _ := json.Marshal(resp)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func splitDeltas(text string, size int) []string {
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	return append(out, text)
}
