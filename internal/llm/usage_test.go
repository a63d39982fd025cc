package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsageAccumulation(t *testing.T) {
	var u TokenUsage
	assert.True(t, u.IsZero())

	u.Add(TokenUsage{InputTokens: 100, OutputTokens: 40})
	u.Add(TokenUsage{InputTokens: 250, OutputTokens: 80})

	assert.Equal(t, 350, u.InputTokens)
	assert.Equal(t, 120, u.OutputTokens)
	assert.Equal(t, 470, u.Total())
	assert.False(t, u.IsZero())
}

func TestTokenUsageCostEstimate(t *testing.T) {
	u := TokenUsage{InputTokens: 2_000_000, OutputTokens: 500_000}
	// $3 per million input, $15 per million output.
	assert.InDelta(t, 6.0+7.5, u.EstimateCostUSD(3, 15), 1e-9)
}

func TestConversationUsage(t *testing.T) {
	var c ConversationUsage
	c.AddUsage(TokenUsage{InputTokens: 10, OutputTokens: 5})
	c.AddUsage(TokenUsage{InputTokens: 20, OutputTokens: 7})

	assert.Equal(t, 30, c.TotalInputTokens)
	assert.Equal(t, 12, c.TotalOutputTokens)
	assert.Equal(t, 2, c.TurnCount)
	assert.Equal(t, 42, c.TotalTokens())
}
