package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamFate/DeepClaude/internal/protocol"
	"github.com/DreamFate/DeepClaude/internal/typ"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestClient(t *testing.T, format typ.Format, url string) Client {
	t.Helper()
	c, err := New(format, Options{APIKey: "sk-test", APIURL: url})
	require.NoError(t, err)
	return c
}

func collectChunks(t *testing.T, s *ChunkStream) []*protocol.StreamChunk {
	t.Helper()
	var chunks []*protocol.StreamChunk
	for s.Next() {
		chunks = append(chunks, s.Current())
	}
	require.NoError(t, s.Err())
	return chunks
}

func deltaText(chunks []*protocol.StreamChunk) (reasoning, content string) {
	for _, c := range chunks {
		for _, ch := range c.Choices {
			reasoning += ch.Delta.ReasoningContent
			content += ch.Delta.Content
		}
	}
	return
}

func TestReasonerStreamOriginReasoning(t *testing.T) {
	srv := sseServer(t,
		`{"id":"up-1","choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"because"}}]}`,
		`{"id":"up-1","choices":[{"index":0,"delta":{"content":"42"},"finish_reason":"stop"}]}`,
	)
	defer srv.Close()

	c := newTestClient(t, typ.FormatReasoner, srv.URL)
	stream := c.StreamChat(context.Background(), "chatcmpl-abc", "r1", nil, nil, Params{IsOriginReasoning: true}, nil)
	chunks := collectChunks(t, stream)

	reasoning, content := deltaText(chunks)
	assert.Equal(t, "because", reasoning)
	assert.Equal(t, "42", content)
	for _, ch := range chunks {
		assert.Equal(t, "chatcmpl-abc", ch.ID)
		assert.Equal(t, "chat.completion.chunk", ch.Object)
		assert.Equal(t, "up-1", ch.ProviderChatID)
	}
	require.NotNil(t, chunks[1].Choices[0].FinishReason)
	assert.Equal(t, "stop", *chunks[1].Choices[0].FinishReason)
}

func TestReasonerStreamEmbeddedThink(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"content":"<thi"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"nk>abc</th"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"ink>def"}}]}`,
	)
	defer srv.Close()

	c := newTestClient(t, typ.FormatReasoner, srv.URL)
	stream := c.StreamChat(context.Background(), "chatcmpl-abc", "r1", nil, nil, Params{}, nil)
	reasoning, content := deltaText(collectChunks(t, stream))
	assert.Equal(t, "abc", reasoning)
	assert.Equal(t, "def", content)
}

func TestReasonerStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"InvalidParameter: bad temperature"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, typ.FormatReasoner, srv.URL)
	stream := c.StreamChat(context.Background(), "chatcmpl-abc", "r1", nil, nil, Params{}, nil)
	assert.False(t, stream.Next())

	var apiErr *protocol.ClientAPIError
	require.True(t, errors.As(stream.Err(), &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Err, "InvalidParameter")
}

func TestReasonerStreamCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()
		// Keep streaming until the client hangs up.
		for r.Context().Err() == nil {
			if _, err := fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\".\"}}]}\n\n"); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	cancel := NewCancelSignal()
	c := newTestClient(t, typ.FormatReasoner, srv.URL)
	stream := c.StreamChat(context.Background(), "chatcmpl-abc", "r1", nil, nil, Params{IsOriginReasoning: true}, cancel)

	require.True(t, stream.Next())
	assert.Equal(t, "partial", stream.Current().Choices[0].Delta.Content)

	cancel.Set()
	for stream.Next() {
	}
	assert.NoError(t, stream.Err())
}

func TestReasonerChatEmbedded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"up-2","choices":[{"index":0,"message":{"role":"assistant","content":"<think>abc</think>def"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":7,"total_tokens":10}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, typ.FormatReasoner, srv.URL)
	completion, err := c.Chat(context.Background(), "chatcmpl-abc", "r1", nil, nil, Params{})
	require.NoError(t, err)

	assert.Equal(t, "chat.completion", completion.Object)
	assert.Equal(t, "up-2", completion.ProviderChatID)
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, "abc", completion.Choices[0].Message.ReasoningContent)
	assert.Equal(t, "def", completion.Choices[0].Message.Content)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, 10, *completion.Usage.TotalTokens)
}

func TestAnthropicStream(t *testing.T) {
	srv := sseServer(t,
		`{"type":"message_start","message":{"id":"msg_1","role":"assistant","usage":{"input_tokens":12}}}`,
		`{"type":"content_block_start","content_block":{"type":"thinking"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"hello"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	)
	defer srv.Close()

	c := newTestClient(t, typ.FormatAnthropic, srv.URL)
	stream := c.StreamChat(context.Background(), "chatcmpl-abc", "claude", nil, nil, Params{}, nil)
	chunks := collectChunks(t, stream)
	require.Len(t, chunks, 4)

	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "msg_1", chunks[0].ProviderChatID)
	assert.Equal(t, "hmm", chunks[1].Choices[0].Delta.ReasoningContent)
	assert.Equal(t, 0, chunks[1].Choices[0].Index)
	assert.Equal(t, "hello", chunks[2].Choices[0].Delta.Content)
	// The event's block index flows through to the choice index.
	assert.Equal(t, 1, chunks[2].Choices[0].Index)

	final := chunks[3]
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, "stop", *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 12, *final.Usage.PromptTokens)
	assert.Equal(t, 5, *final.Usage.CompletionTokens)
	assert.Equal(t, 17, *final.Usage.TotalTokens)
}

func TestAnthropicChatEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_2","role":"assistant","content":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, typ.FormatAnthropic, srv.URL)
	_, err := c.Chat(context.Background(), "chatcmpl-abc", "claude", nil, nil, Params{})
	var apiErr *protocol.ClientAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestOriginalStreamPassthrough(t *testing.T) {
	const upstreamBody = "event: message_start\ndata: {\"raw\":true}\n\nevent: done\ndata: [DONE]\n\n"

	var gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = readBody(r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, upstreamBody)
	}))
	defer srv.Close()

	c := newTestClient(t, typ.FormatOpenAI, srv.URL)
	stream := c.OriginalStreamChat(context.Background(), []byte(`{"model":"m","stream":true}`), nil)

	var relayed []byte
	for stream.Next() {
		relayed = append(relayed, stream.Current()...)
	}
	require.NoError(t, stream.Err())
	// Event lines and the [DONE] marker pass through byte for byte.
	assert.Equal(t, upstreamBody, string(relayed))
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.JSONEq(t, `{"model":"m","stream":true}`, string(gotBody))
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(typ.Format("grpc"), Options{})
	assert.Error(t, err)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
