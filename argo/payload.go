// Package argo implements the client side of the internal Argo API: the
// upstream payload shape the request shaper produces, the pooled HTTP
// transport with its non-streaming and streaming POST operations, and the
// reply envelopes the response translators consume.
package argo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one turn of an upstream conversation. The upstream only
// understands plain-text content.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Payload is the upstream-shaped request body. Typed fields cover the keys
// the proxy rewrites; Extra carries every other client field through
// untouched, since the upstream schema is extensible.
type Payload struct {
	Model       string
	User        string
	Messages    []Message
	Prompt      []string
	System      string
	Stream      *bool
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	Stop        []string
	Extra       map[string]json.RawMessage
}

// MarshalJSON merges the typed fields over the preserved extras. Optional
// fields are omitted rather than sent as null; a forced-off stream flag is
// emitted explicitly so the upstream never tries to stream.
func (p *Payload) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(p.Extra)+8)
	for k, v := range p.Extra {
		fields[k] = v
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal field %q: %w", key, err)
		}
		fields[key] = b
		return nil
	}

	if err := set("model", p.Model); err != nil {
		return nil, err
	}
	if err := set("user", p.User); err != nil {
		return nil, err
	}
	if len(p.Messages) > 0 {
		if err := set("messages", p.Messages); err != nil {
			return nil, err
		}
	}
	if len(p.Prompt) > 0 {
		if err := set("prompt", p.Prompt); err != nil {
			return nil, err
		}
	}
	if p.System != "" {
		if err := set("system", p.System); err != nil {
			return nil, err
		}
	}
	if p.Stream != nil {
		if err := set("stream", *p.Stream); err != nil {
			return nil, err
		}
	}
	if p.MaxTokens != nil {
		if err := set("max_tokens", *p.MaxTokens); err != nil {
			return nil, err
		}
	}
	if p.Temperature != nil {
		if err := set("temperature", *p.Temperature); err != nil {
			return nil, err
		}
	}
	if p.TopP != nil {
		if err := set("top_p", *p.TopP); err != nil {
			return nil, err
		}
	}
	if p.Stop != nil {
		if err := set("stop", p.Stop); err != nil {
			return nil, err
		}
	}

	return json.Marshal(fields)
}

// PromptText concatenates every prompt-side text in the payload: the system
// prompt, the prompt entries, and the message contents. Token accounting
// runs over this final upstream form, not over the client's original body.
func (p *Payload) PromptText() string {
	parts := make([]string, 0, len(p.Prompt)+len(p.Messages)+1)
	if p.System != "" {
		parts = append(parts, p.System)
	}
	parts = append(parts, p.Prompt...)
	for _, m := range p.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ChatReply is the upstream's non-streaming reply for chat-like calls.
type ChatReply struct {
	Response string `json:"response"`
}

// EmbedReply is the upstream's embedding reply: one vector per prompt entry.
type EmbedReply struct {
	Embedding [][]float64 `json:"embedding"`
}

// ParseChatReply decodes a non-streaming chat-like upstream body.
func ParseChatReply(body []byte) (*ChatReply, error) {
	var reply ChatReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decoding upstream reply: %w", err)
	}
	return &reply, nil
}

// ParseEmbedReply decodes an embedding upstream body.
func ParseEmbedReply(body []byte) (*EmbedReply, error) {
	var reply EmbedReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decoding upstream reply: %w", err)
	}
	return &reply, nil
}
