package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversTypedPayload(t *testing.T) {
	p := NewPublisher()
	sub := p.Subscribe(4)
	defer sub.Close()

	p.NodeStarted("workflow_20240101_120000", "implementation", "developer")

	select {
	case e := <-sub.C:
		payload, ok := e.(NodeStartedPayload)
		require.True(t, ok, "expected NodeStartedPayload, got %T", e)
		assert.Equal(t, EventTypeNodeStarted, payload.Type)
		assert.Equal(t, "workflow_20240101_120000", payload.WorkflowID)
		assert.Equal(t, "implementation", payload.NodeName)
		assert.Equal(t, "developer", payload.Role)
		assert.NotEmpty(t, payload.EventID)

		_, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	p := NewPublisher()
	sub := p.Subscribe(1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			p.NodeAction("wf", "node", "llm_call", nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// Only the buffered event survives; the rest were dropped.
	assert.Len(t, sub.C, 1)
}

func TestSubscriptionClose(t *testing.T) {
	p := NewPublisher()
	sub := p.Subscribe(1)

	require.Equal(t, 1, p.SubscriberCount())
	sub.Close()
	assert.Equal(t, 0, p.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open, "channel must be closed after Close")

	// Closing twice is a no-op.
	sub.Close()
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	p := NewPublisher()
	a := p.Subscribe(1)
	b := p.Subscribe(1)
	defer a.Close()
	defer b.Close()

	p.ParallelStart("wf_1", []string{"qa_testing", "infrastructure"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case e := <-sub.C:
			payload, ok := e.(ParallelStartPayload)
			require.True(t, ok)
			assert.Equal(t, []string{"qa_testing", "infrastructure"}, payload.Targets)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed fan-out event")
		}
	}
}

func TestNilPublisherIsSilent(t *testing.T) {
	var p *Publisher

	assert.NotPanics(t, func() {
		p.WorkflowStarted("wf", "feature_development", "req", time.Now())
		p.NodeCompleted("wf", "qa_testing", "done", nil)
		p.WorkflowCompleted("wf", "completed", time.Now())
	})
	assert.Equal(t, 0, p.SubscriberCount())
}

func TestPayloadWireShape(t *testing.T) {
	p := NewPublisher()
	p.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	sub := p.Subscribe(1)
	defer sub.Close()

	p.NodeCompleted("wf_1", "qa_testing", "Created test suite", []string{"/ws/generated/a.py"})

	e := <-sub.C
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	for _, key := range []string{"type", "event_id", "workflow_id", "node_name", "summary", "files_created", "timestamp"} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, "node_completed", decoded["type"])
	assert.Equal(t, "qa_testing", decoded["node_name"])
}
