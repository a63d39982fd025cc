package llm

// TokenUsage counts tokens consumed by provider turns.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// EstimateCostUSD computes the dollar cost for this usage given
// per-million-token rates.
func (u TokenUsage) EstimateCostUSD(inputPerMillion, outputPerMillion float64) float64 {
	inputCost := float64(u.InputTokens) / 1_000_000.0 * inputPerMillion
	outputCost := float64(u.OutputTokens) / 1_000_000.0 * outputPerMillion
	return inputCost + outputCost
}

// ConversationUsage aggregates usage across the turns of a conversation.
type ConversationUsage struct {
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TurnCount         int     `json:"turn_count"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd,omitempty"`
}

// AddUsage folds one turn's usage into the running totals.
func (c *ConversationUsage) AddUsage(u TokenUsage) {
	c.TotalInputTokens += u.InputTokens
	c.TotalOutputTokens += u.OutputTokens
	c.TurnCount++
}

// TotalTokens returns the combined token count.
func (c ConversationUsage) TotalTokens() int {
	return c.TotalInputTokens + c.TotalOutputTokens
}
