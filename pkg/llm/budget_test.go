package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 4096), 1024},
		{strings.Repeat("x", 4097), 1025},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.input), "len=%d", len(tt.input))
	}
}

func TestFitToBudgetUnchangedWhenWithinWindow(t *testing.T) {
	system := "You are a business analyst."
	user := "Analyze this requirement."

	gotSystem, gotUser, truncated := FitToBudget(system, user, 4096, 1024)

	assert.False(t, truncated)
	assert.Equal(t, system, gotSystem)
	assert.Equal(t, user, gotUser)
}

func TestFitToBudgetTruncatesOversizedPrompts(t *testing.T) {
	system := strings.Repeat("S", 10_000)
	user := strings.Repeat("U", 20_000)
	const maxContext, reserved = 2000, 1024

	gotSystem, gotUser, truncated := FitToBudget(system, user, maxContext, reserved)

	assert.True(t, truncated)
	assert.True(t, strings.HasSuffix(gotSystem, "[system prompt truncated to fit context...]"))
	assert.True(t, strings.HasSuffix(gotUser, "[user prompt truncated to fit context...]"))
	assert.Less(t, len(gotSystem), len(system))
	assert.Less(t, len(gotUser), len(user))

	available := maxContext - reserved
	assert.LessOrEqual(t, EstimateTokens(gotSystem)+EstimateTokens(gotUser), available,
		"post-fit prompts must fit the window with reserved headroom")

	// The system prompt keeps at least its 30% share of the character budget.
	assert.GreaterOrEqual(t, len(gotSystem), available*4*30/100)
}

func TestFitToBudgetRoundingNeverOvershoots(t *testing.T) {
	// 257 available tokens: 30% of 1028 chars is not a multiple of four, so
	// this exercises the budget rounding.
	system := strings.Repeat("S", 5_000)
	user := strings.Repeat("U", 5_000)

	gotSystem, gotUser, truncated := FitToBudget(system, user, 257, 0)

	assert.True(t, truncated)
	assert.LessOrEqual(t, EstimateTokens(gotSystem)+EstimateTokens(gotUser), 257)
}

func TestFitToBudgetOnlyOversizedSideIsTouched(t *testing.T) {
	system := "short system prompt"
	user := strings.Repeat("U", 50_000)

	gotSystem, gotUser, truncated := FitToBudget(system, user, 2000, 1024)

	assert.True(t, truncated)
	assert.Equal(t, system, gotSystem, "a prompt inside its share is untouched")
	assert.Less(t, len(gotUser), len(user))
}
