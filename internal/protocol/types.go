// Package protocol defines the canonical chat-completion shapes the gateway
// emits regardless of which upstream family produced them.
package protocol

// Message is a single chat turn as received from the caller.
type Message struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// StreamDelta carries the incremental fields of a streaming choice.
// Absent fields are omitted from the serialized form.
type StreamDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// StreamChoice is one choice inside a streaming chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// PromptTokensDetails is the fine-grained input token breakdown, passed
// through from upstreams that report it.
type PromptTokensDetails struct {
	AudioTokens  *int `json:"audio_tokens,omitempty"`
	TextTokens   *int `json:"text_tokens,omitempty"`
	CachedTokens *int `json:"cached_tokens,omitempty"`
	VideoTokens  *int `json:"video_tokens,omitempty"`
	ImageTokens  *int `json:"image_tokens,omitempty"`
}

// CompletionTokensDetails is the fine-grained output token breakdown.
type CompletionTokensDetails struct {
	AcceptedPredictionTokens *int `json:"accepted_prediction_tokens,omitempty"`
	AudioTokens              *int `json:"audio_tokens,omitempty"`
	ReasoningTokens          *int `json:"reasoning_tokens,omitempty"`
	RejectedPredictionTokens *int `json:"rejected_prediction_tokens,omitempty"`
}

// Usage reports token counts as passed through from the upstream.
type Usage struct {
	PromptTokens            *int                     `json:"prompt_tokens,omitempty"`
	CompletionTokens        *int                     `json:"completion_tokens,omitempty"`
	TotalTokens             *int                     `json:"total_tokens,omitempty"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// StreamChunk is the canonical streaming chunk. Every chunk emitted on a
// given stream shares the same ID, Created and Model.
type StreamChunk struct {
	ID             string         `json:"id"`
	Object         string         `json:"object"`
	Created        int64          `json:"created"`
	Model          string         `json:"model"`
	ProviderChatID string         `json:"provider_chat_id,omitempty"`
	Choices        []StreamChoice `json:"choices"`
	Usage          *Usage         `json:"usage,omitempty"`
}

// NewStreamChunk builds a chunk with the fixed stream identity fields set.
// The choice list starts empty (not nil) so a chunk that carries only usage
// still serializes choices as [].
func NewStreamChunk(id string, created int64, model string) StreamChunk {
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []StreamChoice{},
	}
}

// CompletionMessage is the message of a non-streaming choice.
type CompletionMessage struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// CompletionChoice is one choice of the canonical final response.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason *string           `json:"finish_reason,omitempty"`
}

// Completion is the canonical non-streaming response.
type Completion struct {
	ID             string             `json:"id"`
	Object         string             `json:"object"`
	Created        int64              `json:"created"`
	Model          string             `json:"model"`
	ProviderChatID string             `json:"provider_chat_id,omitempty"`
	Choices        []CompletionChoice `json:"choices"`
	Usage          *Usage             `json:"usage,omitempty"`
}

// NewCompletion builds a final response with the identity fields set.
func NewCompletion(id string, created int64, model string) Completion {
	return Completion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
	}
}
