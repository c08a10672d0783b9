package request

import (
	"net/http"

	"github.com/DreamFate/DeepClaude/internal/protocol"
)

// FormatOpenAI builds the headers and body for an openai-family upstream.
// All caller-supplied parameters with non-null values pass through.
func FormatOpenAI(apiKey, model string, messages []protocol.Message, args Args, stream bool) (http.Header, map[string]any) {
	headers := jsonHeaders()
	headers.Set("Authorization", "Bearer "+apiKey)

	body := map[string]any{
		"model":    model,
		"messages": messagesToMaps(messages),
		"stream":   stream,
	}
	for key, v := range args {
		if v == nil {
			continue
		}
		body[key] = v
	}
	return headers, body
}
