package conversation

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// GenerateRequest is a single completion request to the LLM provider.
type GenerateRequest struct {
	UserID       string
	SystemPrompt string
	History      []HistoryMessage
	Message      string
	Temperature  float32
	MaxTokens    int32
}

// StreamChunk is one piece of a streaming generation. Partial chunks carry
// only the delta; the final chunk is redefined to carry the complete
// accumulated text with IsComplete set.
type StreamChunk struct {
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
	// Fallback marks a complete chunk that replaces the generation rather
	// than finishing it; any deltas streamed before it are stale and should
	// be discarded by the channel adapter.
	Fallback bool `json:"fallback,omitempty"`
}

// IntentAnalysis is the structured output of the LLM intent call.
type IntentAnalysis struct {
	Intent     Intent
	Confidence float64
	Entities   Entities
}

// LLMClient is the stateless wrapper around the generative-AI provider.
type LLMClient interface {
	// GenerateReply produces a single completed response.
	GenerateReply(ctx context.Context, req GenerateRequest) (string, error)
	// GenerateStream yields partial chunks and closes the channel after the
	// final complete chunk. The sequence is single-pass: regenerate by
	// calling again. Cancelling ctx abandons the generation.
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
	// AnalyzeIntent classifies a message and extracts entities.
	AnalyzeIntent(ctx context.Context, text string) (IntentAnalysis, error)
	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}
