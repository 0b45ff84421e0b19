// Package tokens counts prompt and completion tokens for usage reporting.
//
// Counting uses the tiktoken cl100k_base encoding for every model the
// upstream serves. Loading the encoding can fail on machines without the
// cached BPE data; the counter then degrades to a deterministic estimate so
// usage blocks stay populated and total == prompt + completion still holds.
package tokens

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter converts text into token counts. Safe for concurrent use.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter builds a Counter backed by the cl100k_base encoding, falling
// back to the estimator when the encoding cannot be loaded.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the number of tokens in text. The model argument is part of
// the counting contract; the upstream catalogue is uniformly cl100k-encoded
// today, so it only matters if a per-model encoding ever diverges.
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// estimate approximates a BPE count as one token per four runes, with a
// floor of one token for non-empty text.
func estimate(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
