package request

import (
	"net/http"

	"github.com/DreamFate/DeepClaude/internal/protocol"
)

// reasonerSupportedParams is the recognized passthrough set for the reasoner
// family (DeepSeek-style chat completions).
var reasonerSupportedParams = []string{
	"frequency_penalty",
	"temperature",
	"top_p",
	"top_k",
	"max_tokens",
	"presence_penalty",
	"stop",
	"stream_options",
	"response_format",
	"tools",
	"tool_choice",
	"logprobs",
	"top_logprobs",
}

var reasonerParamAliases = map[string]string{
	"max_completion_tokens": "max_tokens",
}

// FormatReasoner builds the headers and body for a reasoner-family upstream.
func FormatReasoner(apiKey, model string, messages []protocol.Message, args Args, stream bool) (http.Header, map[string]any) {
	headers := jsonHeaders()
	headers.Set("Authorization", "Bearer "+apiKey)

	body := map[string]any{
		"model":    model,
		"messages": messagesToMaps(messages),
		"stream":   stream,
	}
	copyParams(body, args, reasonerSupportedParams, reasonerParamAliases)
	return headers, body
}
