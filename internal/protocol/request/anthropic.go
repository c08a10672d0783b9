package request

import (
	"net/http"

	"github.com/DreamFate/DeepClaude/internal/protocol"
)

const anthropicVersion = "2023-06-01"

// defaultAnthropicMaxTokens applies when the caller sets no token limit;
// the messages API rejects requests without one.
const defaultAnthropicMaxTokens = 8192

var anthropicSupportedParams = []string{
	"max_tokens",
	"container",
	"mcp_servers",
	"metadata",
	"service_tier",
	"stop_sequences",
	"stream",
	"system",
	"temperature",
	"thinking",
	"tool_choice",
	"tools",
	"top_p",
	"top_k",
}

var anthropicParamAliases = map[string]string{
	"max_completion_tokens": "max_tokens",
	"stop":                  "stop_sequences",
}

// FormatAnthropic builds the headers and body for an anthropic-family
// upstream. The first system message, if any, is lifted out of the message
// list and assigned to the top-level system field.
func FormatAnthropic(apiKey, model string, messages []protocol.Message, args Args, stream bool) (http.Header, map[string]any) {
	headers := http.Header{}
	headers.Set("x-api-key", apiKey)
	headers.Set("anthropic-version", anthropicVersion)
	headers.Set("content-type", "application/json")

	var system string
	lifted := false
	kept := make([]protocol.Message, 0, len(messages))
	for _, m := range messages {
		if !lifted && m.Role == "system" {
			system = m.Content
			lifted = true
			continue
		}
		kept = append(kept, m)
	}

	body := map[string]any{
		"model":    model,
		"messages": messagesToMaps(kept),
		"stream":   stream,
	}
	if system != "" {
		body["system"] = system
	}
	copyParams(body, args, anthropicSupportedParams, anthropicParamAliases)
	if v, ok := body["max_tokens"]; !ok || v == nil {
		body["max_tokens"] = defaultAnthropicMaxTokens
	}
	return headers, body
}
