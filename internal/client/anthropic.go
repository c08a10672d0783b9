package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/DreamFate/DeepClaude/internal/protocol"
	"github.com/DreamFate/DeepClaude/internal/protocol/request"
)

const anthropicVersion = "2023-06-01"

// anthropicClient talks to the Anthropic Messages API and reshapes its typed
// event stream into canonical chunks.
type anthropicClient struct {
	*httpClient
}

func (c *anthropicClient) StreamChat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, _ Params, cancel *CancelSignal) *ChunkStream {
	stream := NewChunkStream()
	headers, body := request.FormatAnthropic(c.apiKey, model, messages, args, true)

	go func() {
		created := time.Now().Unix()
		resp, err := c.post(ctx, headers, body)
		if err != nil {
			stream.Close(err)
			return
		}

		var providerChatID string
		var inputTokens *int
		var streamErr error
		err = c.streamPayloads(resp, cancel, func(payload string) bool {
			if !gjson.Valid(payload) {
				return true
			}
			event := gjson.Parse(payload)
			chunk := protocol.NewStreamChunk(chatID, created, model)

			switch event.Get("type").String() {
			case "message_start":
				msg := event.Get("message")
				providerChatID = msg.Get("id").String()
				if in := msg.Get("usage.input_tokens"); in.Exists() {
					n := int(in.Int())
					inputTokens = &n
				}
				chunk.ProviderChatID = providerChatID
				chunk.Choices = []protocol.StreamChoice{{
					Delta: protocol.StreamDelta{Role: msg.Get("role").String()},
				}}

			case "content_block_delta":
				delta := event.Get("delta")
				var d protocol.StreamDelta
				switch delta.Get("type").String() {
				case "text_delta":
					d.Content = delta.Get("text").String()
				case "thinking_delta":
					d.ReasoningContent = delta.Get("thinking").String()
				default:
					// input_json_delta and signature_delta carry no chat text.
					return true
				}
				chunk.ProviderChatID = providerChatID
				chunk.Choices = []protocol.StreamChoice{{
					Index: int(event.Get("index").Int()),
					Delta: d,
				}}

			case "message_delta":
				reason := mapStopReason(event.Get("delta.stop_reason").String())
				chunk.ProviderChatID = providerChatID
				chunk.Choices = []protocol.StreamChoice{{FinishReason: &reason}}
				if out := event.Get("usage.output_tokens"); out.Exists() {
					n := int(out.Int())
					chunk.Usage = anthropicUsage(inputTokens, &n)
				}

			case "error":
				streamErr = protocol.NewClientAPIError(
					fmt.Sprintf("anthropic stream error: %s", event.Get("error.message").String()))
				return false

			default:
				// ping, content_block_start/stop, message_stop.
				return true
			}
			return stream.Send(ctx, &chunk, cancel)
		})
		if err == nil {
			err = streamErr
		}
		stream.Close(err)
	}()
	return stream
}

func (c *anthropicClient) Chat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, _ Params) (*protocol.Completion, error) {
	headers, body := request.FormatAnthropic(c.apiKey, model, messages, args, false)
	resp, err := c.post(ctx, headers, body)
	if err != nil {
		return nil, err
	}
	raw, err := c.readAll(resp)
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(raw)
	blocks := root.Get("content").Array()
	if len(blocks) == 0 {
		return nil, protocol.NewClientAPIError("anthropic response contained no content")
	}

	var content, reasoning strings.Builder
	for _, b := range blocks {
		switch b.Get("type").String() {
		case "text":
			content.WriteString(b.Get("text").String())
		case "thinking":
			reasoning.WriteString(b.Get("thinking").String())
		}
	}

	completion := protocol.NewCompletion(chatID, time.Now().Unix(), model)
	completion.ProviderChatID = root.Get("id").String()
	reason := mapStopReason(root.Get("stop_reason").String())
	completion.Choices = []protocol.CompletionChoice{{
		Message: protocol.CompletionMessage{
			Role:             root.Get("role").String(),
			Content:          content.String(),
			ReasoningContent: reasoning.String(),
		},
		FinishReason: &reason,
	}}

	if u := root.Get("usage"); u.IsObject() {
		in := int(u.Get("input_tokens").Int())
		out := int(u.Get("output_tokens").Int())
		completion.Usage = anthropicUsage(&in, &out)
	}
	return &completion, nil
}

func (c *anthropicClient) OriginalStreamChat(ctx context.Context, body []byte, cancel *CancelSignal) *RawStream {
	return c.originalStream(ctx, anthropicHeaders(c.apiKey), body, cancel)
}

func (c *anthropicClient) OriginalChat(ctx context.Context, body []byte) (json.RawMessage, error) {
	return c.originalChat(ctx, anthropicHeaders(c.apiKey), body)
}

func anthropicHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
	return h
}

// mapStopReason converts Anthropic stop reasons to OpenAI finish reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func anthropicUsage(in, out *int) *protocol.Usage {
	u := &protocol.Usage{PromptTokens: in, CompletionTokens: out}
	if in != nil && out != nil {
		total := *in + *out
		u.TotalTokens = &total
	}
	return u
}
