package client

import (
	"bytes"
	"strings"
)

// doneMarker terminates an SSE stream.
const doneMarker = "[DONE]"

// lineFramer reassembles SSE data lines from arbitrary-size byte windows.
// A single window may contain zero, one or many lines, and lines may span
// windows; the framer buffers across windows and yields only complete lines.
type lineFramer struct {
	buf bytes.Buffer
}

// Feed appends a read window and returns the payloads of every complete
// "data: ..." line it now holds. Non-data lines (event types, comments,
// blank record separators) are dropped.
func (f *lineFramer) Feed(window []byte) []string {
	f.buf.Write(window)

	var payloads []string
	for {
		raw := f.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := string(raw[:idx])
		f.buf.Next(idx + 1)

		line = strings.TrimSuffix(line, "\r")
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads
}
