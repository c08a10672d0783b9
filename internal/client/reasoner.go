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

// reasonerClient talks to OpenAI-compatible reasoning upstreams. Depending on
// Params the reasoning arrives in a dedicated reasoning_content field or
// embedded in content between <think> markers.
type reasonerClient struct {
	*httpClient
}

func (c *reasonerClient) StreamChat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, p Params, cancel *CancelSignal) *ChunkStream {
	stream := NewChunkStream()
	headers, body := request.FormatReasoner(c.apiKey, model, messages, args, true)

	go func() {
		created := time.Now().Unix()
		resp, err := c.post(ctx, headers, body)
		if err != nil {
			stream.Close(err)
			return
		}

		var x *thinkExtractor
		if !p.IsOriginReasoning {
			x = &thinkExtractor{}
		}
		err = c.streamPayloads(resp, cancel, func(payload string) bool {
			chunk, ok := parseOpenAIChunk(payload, chatID, created, model, x)
			if !ok {
				return true
			}
			return stream.Send(ctx, chunk, cancel)
		})
		if err == nil && x != nil {
			if seg, ok := x.Flush(); ok {
				chunk := protocol.NewStreamChunk(chatID, created, model)
				chunk.Choices = []protocol.StreamChoice{{Delta: segmentDelta(seg)}}
				stream.Send(ctx, &chunk, cancel)
			}
		}
		stream.Close(err)
	}()
	return stream
}

func (c *reasonerClient) Chat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, p Params) (*protocol.Completion, error) {
	headers, body := request.FormatReasoner(c.apiKey, model, messages, args, false)
	resp, err := c.post(ctx, headers, body)
	if err != nil {
		return nil, err
	}
	raw, err := c.readAll(resp)
	if err != nil {
		return nil, err
	}
	return parseOpenAICompletion(raw, chatID, model, !p.IsOriginReasoning)
}

func (c *reasonerClient) OriginalStreamChat(ctx context.Context, body []byte, cancel *CancelSignal) *RawStream {
	return c.originalStream(ctx, bearerHeaders(c.apiKey), body, cancel)
}

func (c *reasonerClient) OriginalChat(ctx context.Context, body []byte) (json.RawMessage, error) {
	return c.originalChat(ctx, bearerHeaders(c.apiKey), body)
}

// originalStream relays the upstream body verbatim. Event lines, comments
// and the upstream's own [DONE] marker all pass through untouched.
func (c *httpClient) originalStream(ctx context.Context, headers http.Header, body []byte, cancel *CancelSignal) *RawStream {
	stream := NewRawStream()
	go func() {
		resp, err := c.postRaw(ctx, headers, body)
		if err != nil {
			stream.Close(err)
			return
		}
		err = c.streamWindows(resp, cancel, func(chunk []byte) bool {
			return stream.Send(ctx, chunk, cancel)
		})
		stream.Close(err)
	}()
	return stream
}

func (c *httpClient) originalChat(ctx context.Context, headers http.Header, body []byte) (json.RawMessage, error) {
	resp, err := c.postRaw(ctx, headers, body)
	if err != nil {
		return nil, err
	}
	raw, err := c.readAll(resp)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func bearerHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+apiKey)
	return h
}

func segmentDelta(seg segment) protocol.StreamDelta {
	if seg.reasoning {
		return protocol.StreamDelta{ReasoningContent: seg.text}
	}
	return protocol.StreamDelta{Content: seg.text}
}

// parseOpenAIChunk reshapes one OpenAI-style SSE payload into a canonical
// chunk. A non-nil extractor routes embedded <think> content into
// reasoning_content; otherwise delta fields are copied through.
func parseOpenAIChunk(payload, chatID string, created int64, model string, x *thinkExtractor) (*protocol.StreamChunk, bool) {
	if !gjson.Valid(payload) {
		return nil, false
	}
	root := gjson.Parse(payload)
	chunk := protocol.NewStreamChunk(chatID, created, model)
	chunk.ProviderChatID = root.Get("id").String()

	for _, ch := range root.Get("choices").Array() {
		choice := protocol.StreamChoice{Index: int(ch.Get("index").Int())}
		delta := ch.Get("delta")
		choice.Delta.Role = delta.Get("role").String()

		if rc := delta.Get("reasoning_content"); rc.Type == gjson.String {
			choice.Delta.ReasoningContent = rc.String()
		}
		if content := delta.Get("content"); content.Type == gjson.String {
			if x != nil {
				if seg, ok := x.Feed(content.String()); ok {
					d := segmentDelta(seg)
					choice.Delta.Content = d.Content
					if d.ReasoningContent != "" {
						choice.Delta.ReasoningContent = d.ReasoningContent
					}
				}
			} else {
				choice.Delta.Content = content.String()
			}
		}
		if fr := ch.Get("finish_reason"); fr.Type == gjson.String {
			s := fr.String()
			choice.FinishReason = &s
		}
		chunk.Choices = append(chunk.Choices, choice)
	}

	if u := root.Get("usage"); u.IsObject() {
		var usage protocol.Usage
		if json.Unmarshal([]byte(u.Raw), &usage) == nil {
			chunk.Usage = &usage
		}
	}
	return &chunk, true
}

// parseOpenAICompletion reshapes a non-streaming OpenAI-style response.
func parseOpenAICompletion(raw []byte, chatID, model string, embedded bool) (*protocol.Completion, error) {
	root := gjson.ParseBytes(raw)
	if !root.Get("choices").IsArray() {
		return nil, protocol.NewClientAPIError(fmt.Sprintf("unexpected upstream response: %s", truncate(string(raw), 256)))
	}

	completion := protocol.NewCompletion(chatID, time.Now().Unix(), model)
	completion.ProviderChatID = root.Get("id").String()

	for _, ch := range root.Get("choices").Array() {
		choice := protocol.CompletionChoice{Index: int(ch.Get("index").Int())}
		msg := ch.Get("message")
		choice.Message.Role = msg.Get("role").String()
		choice.Message.ReasoningContent = msg.Get("reasoning_content").String()

		content := msg.Get("content").String()
		if embedded {
			r, a := splitEmbedded(content)
			if r != "" {
				choice.Message.ReasoningContent = r
			}
			content = a
		}
		choice.Message.Content = content

		if fr := ch.Get("finish_reason"); fr.Type == gjson.String {
			s := fr.String()
			choice.FinishReason = &s
		}
		completion.Choices = append(completion.Choices, choice)
	}

	if u := root.Get("usage"); u.IsObject() {
		var usage protocol.Usage
		if json.Unmarshal([]byte(u.Raw), &usage) == nil {
			completion.Usage = &usage
		}
	}
	return &completion, nil
}

// splitEmbedded separates a complete embedded-reasoning answer into its
// reasoning and content parts.
func splitEmbedded(s string) (reasoning, content string) {
	open := strings.Index(s, thinkOpen)
	if open < 0 {
		return "", s
	}
	rest := s[open+len(thinkOpen):]
	end := strings.Index(rest, thinkClose)
	if end < 0 {
		return rest, s[:open]
	}
	return rest[:end], s[:open] + rest[end+len(thinkClose):]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
