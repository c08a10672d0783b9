package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/DreamFate/DeepClaude/internal/protocol"
)

// readWindow is the upstream body read granularity. The cancel signal is
// checked before every window so a cancel lands within one window of data.
const readWindow = 8 * 1024

const maxErrorBody = 64 * 1024

// httpClient holds the provider endpoint and the shared transport. Family
// clients embed it for request plumbing and keep only parsing to themselves.
type httpClient struct {
	apiKey string
	apiURL string
	hc     *http.Client
}

func newHTTPClient(opts Options) *httpClient {
	hc := &http.Client{Timeout: opts.Timeout}
	// A nil *http.Transport must not be stored in the interface field, or the
	// client dereferences it; leave the field nil to use the default transport.
	if opts.Transport != nil {
		hc.Transport = opts.Transport
	}
	return &httpClient{
		apiKey: opts.APIKey,
		apiURL: opts.APIURL,
		hc:     hc,
	}
}

// post sends a JSON body to the provider endpoint and returns the response
// with its status validated. Non-2xx responses are consumed and translated
// into a ClientAPIError.
func (c *httpClient) post(ctx context.Context, headers http.Header, body map[string]any) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.postRaw(ctx, headers, buf)
}

func (c *httpClient) postRaw(ctx context.Context, headers http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, protocol.NewClientAPIError(fmt.Sprintf("upstream request failed: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, protocol.TranslateHTTPError(resp.StatusCode, detail)
	}
	return resp, nil
}

// readAll consumes a non-streaming response body.
func (c *httpClient) readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewClientAPIError(fmt.Sprintf("read upstream response: %v", err))
	}
	return body, nil
}

// streamPayloads reads the response body in fixed windows, reframes SSE data
// lines, and hands each payload to fn until the stream ends, fn declines
// more, or the cancel signal fires. The "[DONE]" marker is not passed to fn.
func (c *httpClient) streamPayloads(resp *http.Response, cancel *CancelSignal, fn func(payload string) bool) error {
	defer resp.Body.Close()

	var framer lineFramer
	window := make([]byte, readWindow)
	for {
		if cancel != nil && cancel.IsSet() {
			return nil
		}
		n, err := resp.Body.Read(window)
		if n > 0 {
			for _, payload := range framer.Feed(window[:n]) {
				if payload == doneMarker {
					return nil
				}
				if !fn(payload) {
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if cancel != nil && cancel.IsSet() {
				return nil
			}
			return protocol.NewClientAPIError(fmt.Sprintf("read upstream stream: %v", err))
		}
	}
}

// streamWindows reads the response body in fixed windows and hands each
// window to fn untouched, with no SSE reframing. fn receives a fresh copy
// per window.
func (c *httpClient) streamWindows(resp *http.Response, cancel *CancelSignal, fn func(chunk []byte) bool) error {
	defer resp.Body.Close()

	window := make([]byte, readWindow)
	for {
		if cancel != nil && cancel.IsSet() {
			return nil
		}
		n, err := resp.Body.Read(window)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, window[:n])
			if !fn(chunk) {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if cancel != nil && cancel.IsSet() {
				return nil
			}
			return protocol.NewClientAPIError(fmt.Sprintf("read upstream stream: %v", err))
		}
	}
}
