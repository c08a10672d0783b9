// Package request builds provider-specific headers and bodies from canonical
// inputs. Formatters are pure and never fail; parameter validation happens in
// the dispatcher before they run.
package request

import (
	"net/http"

	"github.com/DreamFate/DeepClaude/internal/protocol"
)

// Args is the open-ended set of caller-supplied model parameters. Values keep
// whatever shape json.Unmarshal gave them (number / bool / string / array /
// object); the per-family allowlist decides what passes through.
type Args map[string]any

// copyParams copies the allowlisted params with non-nil values from args into
// body, then applies the alias map for params whose target is still absent.
func copyParams(body map[string]any, args Args, supported []string, aliases map[string]string) {
	for _, key := range supported {
		if v, ok := args[key]; ok && v != nil {
			body[key] = v
		}
	}
	for from, to := range aliases {
		v, ok := args[from]
		if !ok || v == nil {
			continue
		}
		if cur, exists := body[to]; !exists || cur == nil {
			body[to] = v
		}
	}
}

// messagesToMaps renders canonical messages as plain JSON objects.
func messagesToMaps(messages []protocol.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		msg := map[string]any{"role": m.Role, "content": m.Content}
		out = append(out, msg)
	}
	return out
}

func jsonHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}
