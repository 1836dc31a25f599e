package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// conversation service and LLM integrations.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single streaming completion request.
type ChatRequest struct {
	Model           string
	SystemPrompt    string
	Messages        []ChatMessage
	Temperature     float32
	MaxOutputTokens int
}
