package client

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkExtractor splits an embedded-reasoning content stream into reasoning
// and answer segments. Upstreams that inline their reasoning open the content
// stream with <think> and close it with </think>; markers may arrive split
// across chunks, so the extractor carries unresolved text between calls.
//
// Concatenating every emitted reasoning segment followed by every emitted
// content segment reproduces the upstream text with the markers removed,
// regardless of how the upstream chunked the stream.
type thinkExtractor struct {
	collecting bool
	carry      string
}

// segment is one classified piece of upstream text.
type segment struct {
	reasoning bool
	text      string
}

// Feed classifies the next content delta. It returns at most one segment;
// text that cannot be classified yet (a partial marker, or the answer tail
// after </think>) stays in the carry until the next call or Flush.
func (x *thinkExtractor) Feed(delta string) (segment, bool) {
	s := x.carry + delta
	x.carry = ""

	if strings.Contains(s, thinkOpen) {
		x.collecting = true
		s = strings.Replace(s, thinkOpen, "", 1)
	}

	if i := strings.Index(s, thinkClose); i >= 0 {
		// Everything before the close marker is the tail of reasoning; the
		// remainder is answer text, buffered for the next iteration.
		x.collecting = false
		x.carry = s[i+len(thinkClose):]
		if s[:i] == "" {
			return segment{}, false
		}
		return segment{reasoning: true, text: s[:i]}, true
	}

	// Hold back a trailing partial marker so a split <think> or </think>
	// is resolved once the rest of it arrives.
	marker := thinkOpen
	if x.collecting {
		marker = thinkClose
	}
	if n := partialMarkerSuffix(s, marker); n > 0 {
		x.carry = s[len(s)-n:]
		s = s[:len(s)-n]
	}

	if s == "" {
		return segment{}, false
	}
	return segment{reasoning: x.collecting, text: s}, true
}

// Flush returns whatever text is still carried once the upstream stream ends.
func (x *thinkExtractor) Flush() (segment, bool) {
	if x.carry == "" {
		return segment{}, false
	}
	s := x.carry
	x.carry = ""
	return segment{reasoning: x.collecting, text: s}, true
}

// partialMarkerSuffix returns the length of the longest suffix of s that is
// a proper prefix of marker.
func partialMarkerSuffix(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
