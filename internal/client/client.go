package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DreamFate/DeepClaude/internal/protocol"
	"github.com/DreamFate/DeepClaude/internal/typ"
)

// Default upstream timeouts. The total budget covers the whole exchange,
// connect bounds dialing, and header bounds the wait for the status line.
const (
	DefaultTotalTimeout   = 600 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultHeaderTimeout  = 500 * time.Second
)

// Params carries per-model behavior flags into a client call.
type Params struct {
	// IsOriginReasoning marks reasoner upstreams that ship reasoning in a
	// dedicated reasoning_content field. When false the upstream embeds
	// reasoning in content between <think> markers.
	IsOriginReasoning bool
}

// Client is one upstream provider connection. StreamChat and Chat normalize
// the upstream's wire format into canonical chunks and completions;
// the Original variants pass the caller's body through untouched and relay
// raw upstream bytes.
type Client interface {
	StreamChat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, p Params, cancel *CancelSignal) *ChunkStream
	Chat(ctx context.Context, chatID, model string, messages []protocol.Message, args map[string]any, p Params) (*protocol.Completion, error)
	OriginalStreamChat(ctx context.Context, body []byte, cancel *CancelSignal) *RawStream
	OriginalChat(ctx context.Context, body []byte) (json.RawMessage, error)
}

// Options configures a client for one provider record.
type Options struct {
	APIKey    string
	APIURL    string
	Transport *http.Transport
	Timeout   time.Duration
}

// New builds the client for a provider's wire format.
func New(format typ.Format, opts Options) (Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTotalTimeout
	}
	base := newHTTPClient(opts)
	switch format {
	case typ.FormatReasoner:
		return &reasonerClient{httpClient: base}, nil
	case typ.FormatAnthropic:
		return &anthropicClient{httpClient: base}, nil
	case typ.FormatOpenAI:
		return &openaiClient{httpClient: base}, nil
	default:
		return nil, fmt.Errorf("unsupported provider format '%s'", format)
	}
}

// ChunkStream iterates canonical chunks produced by a streaming chat call.
// The producer goroutine closes the channel when the upstream finishes,
// fails, or the cancel signal fires.
type ChunkStream struct {
	ch  chan *protocol.StreamChunk
	cur *protocol.StreamChunk
	err error

	fail chan error
}

// NewChunkStream returns an empty stream for a producer goroutine to fill.
func NewChunkStream() *ChunkStream {
	return &ChunkStream{
		ch:   make(chan *protocol.StreamChunk, streamBuffer),
		fail: make(chan error, 1),
	}
}

// Next advances to the next chunk. It returns false once the stream is
// exhausted; check Err afterwards to distinguish completion from failure.
func (s *ChunkStream) Next() bool {
	c, ok := <-s.ch
	if !ok {
		select {
		case s.err = <-s.fail:
		default:
		}
		s.cur = nil
		return false
	}
	s.cur = c
	return true
}

// Current returns the chunk Next advanced to.
func (s *ChunkStream) Current() *protocol.StreamChunk { return s.cur }

// Err returns the error that terminated the stream, if any.
func (s *ChunkStream) Err() error { return s.err }

// Send delivers a chunk to the consumer. It returns false when the context
// or cancel signal ends the stream before the consumer takes the chunk.
func (s *ChunkStream) Send(ctx context.Context, c *protocol.StreamChunk, cancel *CancelSignal) bool {
	select {
	case s.ch <- c:
		return true
	case <-ctx.Done():
		return false
	case <-cancelDone(cancel):
		return false
	}
}

// Close ends the stream, recording err as its terminal state. Producer-side
// only; call exactly once.
func (s *ChunkStream) Close(err error) {
	if err != nil {
		s.fail <- err
	}
	close(s.ch)
}

// RawStream iterates the raw body of a passthrough streaming call. Each
// element is one read window of upstream bytes, untouched.
type RawStream struct {
	ch  chan []byte
	cur []byte
	err error

	fail chan error
}

func NewRawStream() *RawStream {
	return &RawStream{
		ch:   make(chan []byte, streamBuffer),
		fail: make(chan error, 1),
	}
}

func (s *RawStream) Next() bool {
	b, ok := <-s.ch
	if !ok {
		select {
		case s.err = <-s.fail:
		default:
		}
		s.cur = nil
		return false
	}
	s.cur = b
	return true
}

func (s *RawStream) Current() []byte { return s.cur }

func (s *RawStream) Err() error { return s.err }

func (s *RawStream) Send(ctx context.Context, b []byte, cancel *CancelSignal) bool {
	select {
	case s.ch <- b:
		return true
	case <-ctx.Done():
		return false
	case <-cancelDone(cancel):
		return false
	}
}

func (s *RawStream) Close(err error) {
	if err != nil {
		s.fail <- err
	}
	close(s.ch)
}

// streamBuffer bounds the chunks held between producer and consumer so a
// slow client applies backpressure to the upstream read loop.
const streamBuffer = 16

func cancelDone(cancel *CancelSignal) <-chan struct{} {
	if cancel == nil {
		return nil
	}
	return cancel.Done()
}
