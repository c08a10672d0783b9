package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DreamFate/DeepClaude/internal/protocol"
	"github.com/DreamFate/DeepClaude/internal/protocol/request"
)

// openaiClient talks to OpenAI-compatible target upstreams. Deltas already
// match the canonical shape so parsing is a straight copy-through.
type openaiClient struct {
	*httpClient
}

func (c *openaiClient) StreamChat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, _ Params, cancel *CancelSignal) *ChunkStream {
	stream := NewChunkStream()
	headers, body := request.FormatOpenAI(c.apiKey, model, messages, args, true)

	go func() {
		created := time.Now().Unix()
		resp, err := c.post(ctx, headers, body)
		if err != nil {
			stream.Close(err)
			return
		}
		err = c.streamPayloads(resp, cancel, func(payload string) bool {
			chunk, ok := parseOpenAIChunk(payload, chatID, created, model, nil)
			if !ok {
				return true
			}
			return stream.Send(ctx, chunk, cancel)
		})
		stream.Close(err)
	}()
	return stream
}

func (c *openaiClient) Chat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, _ Params) (*protocol.Completion, error) {
	headers, body := request.FormatOpenAI(c.apiKey, model, messages, args, false)
	resp, err := c.post(ctx, headers, body)
	if err != nil {
		return nil, err
	}
	raw, err := c.readAll(resp)
	if err != nil {
		return nil, err
	}
	return parseOpenAICompletion(raw, chatID, model, false)
}

func (c *openaiClient) OriginalStreamChat(ctx context.Context, body []byte, cancel *CancelSignal) *RawStream {
	return c.originalStream(ctx, bearerHeaders(c.apiKey), body, cancel)
}

func (c *openaiClient) OriginalChat(ctx context.Context, body []byte) (json.RawMessage, error) {
	return c.originalChat(ctx, bearerHeaders(c.apiKey), body)
}
