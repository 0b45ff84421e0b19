// Package openai defines the OpenAI-compatible wire types the proxy speaks
// to its clients: the shared message shape, the response envelopes for chat
// completions, legacy completions, embeddings and the responses API, and
// their streaming variants.
package openai

import "encoding/json"

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Object type tags carried in response envelopes.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectTextCompletion      = "text_completion"
	ObjectList                = "list"
	ObjectEmbedding           = "embedding"
	ObjectModel               = "model"
	ObjectResponse            = "response"
)

// Finish reasons the proxy emits.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
)

// String returns a pointer to s, for optional wire fields.
func String(s string) *string { return &s }

// Int returns a pointer to n, for optional wire fields.
func Int(n int) *int { return &n }

// ContentPart is a single element of a multipart message content array.
// Only text-bearing parts survive translation; the upstream accepts plain
// text.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is a single conversation turn as clients send it. The Content
// field holds plain-text content and is always set; ContentParts is
// populated when the incoming JSON encodes content as an array, with its
// text parts collapsed into Content.
type Message struct {
	Role         string        `json:"-"`
	Content      string        `json:"-"`
	ContentParts []ContentPart `json:"-"`
}

// MarshalJSON encodes a Message. Content is written as a string unless
// ContentParts is set, in which case the parts array is preserved.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	w := wire{Role: m.Role}
	var err error
	if len(m.ContentParts) > 0 {
		w.Content, err = json.Marshal(m.ContentParts)
	} else {
		w.Content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a Message. The content field may be a plain string
// or an array of ContentPart objects; both forms are handled.
func (m *Message) UnmarshalJSON(b []byte) error {
	type wire struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	m.Role = w.Role

	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}
	// Plain string is the common case.
	var s string
	if err := json.Unmarshal(w.Content, &s); err == nil {
		m.Content = s
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(w.Content, &parts); err != nil {
		return err
	}
	m.ContentParts = parts
	// Collapse text-bearing parts ("text", "input_text", ...) so downstream
	// code always has a flat string to work with.
	for _, p := range parts {
		if p.Text != "" {
			m.Content += p.Text
		}
	}
	return nil
}

// Tool describes a function the client allows the model to call.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function is the callable inside a Tool. Parameters holds the JSON Schema
// for its arguments.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a function invocation in an assistant reply.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the name and JSON-encoded arguments of a call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage carries token consumption. TotalTokens is always the sum of the
// other two.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AssistantMessage is the message inside a non-streaming chat choice.
// Content is null, not empty, when the reply is a tool call.
type AssistantMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatChoice is a single choice of a non-streaming chat completion.
type ChatChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// ChatCompletion is the non-streaming chat response envelope.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// Delta carries the incremental fields of one streamed chat choice.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is a single choice of a streamed chat frame. FinishReason is
// emitted as an explicit null on ongoing chunks.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one streamed chat frame.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// CompletionChoice is a single choice of a legacy text completion.
// LogProbs is always emitted as null; the upstream never reports them.
type CompletionChoice struct {
	Text         string  `json:"text"`
	Index        int     `json:"index"`
	LogProbs     any     `json:"logprobs"`
	FinishReason *string `json:"finish_reason"`
}

// Completion is the legacy text-completion envelope. The same shape serves
// both modes: streamed frames reuse it with Usage left nil, and the object
// tag stays text_completion throughout.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// Embedding holds a single embedding vector and its index.
type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingUsage has no completion side; total always equals prompt.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingList is the /v1/embeddings response envelope.
type EmbeddingList struct {
	Object string         `json:"object"`
	Data   []Embedding    `json:"data"`
	Model  string         `json:"model"`
	Usage  EmbeddingUsage `json:"usage"`
}

// Model describes a single catalogue entry for /v1/models. InternalName
// exposes the upstream id alongside the public alias.
type Model struct {
	ID           string `json:"id"`
	Object       string `json:"object"`
	Created      int64  `json:"created"`
	OwnedBy      string `json:"owned_by"`
	InternalName string `json:"internal_name,omitempty"`
}

// ModelList is the /v1/models response envelope.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Response status values.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// OutputText is the text content part of a responses output message.
type OutputText struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Annotations []any  `json:"annotations"`
}

// NewOutputText builds an output_text part with the mandatory empty
// annotations array.
func NewOutputText(text string) OutputText {
	return OutputText{Type: "output_text", Text: text, Annotations: []any{}}
}

// OutputMessage is one output item of a response.
type OutputMessage struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Role    string       `json:"role"`
	Status  string       `json:"status"`
	Content []OutputText `json:"content"`
}

// ResponseUsage is the responses-API usage block.
type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the non-streaming responses envelope and the snapshot carried
// inside response.created and response.completed stream events.
type Response struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Status    string          `json:"status"`
	Model     string          `json:"model"`
	Output    []OutputMessage `json:"output"`
	Usage     *ResponseUsage  `json:"usage,omitempty"`
}

// Responses stream event types, in emission order.
const (
	EventResponseCreated    = "response.created"
	EventResponseInProgress = "response.in_progress"
	EventOutputItemAdded    = "response.output_item.added"
	EventContentPartAdded   = "response.content_part.added"
	EventOutputTextDelta    = "response.output_text.delta"
	EventOutputTextDone     = "response.output_text.done"
	EventContentPartDone    = "response.content_part.done"
	EventOutputItemDone     = "response.output_item.done"
	EventResponseCompleted  = "response.completed"
)

// ResponseEvent is one frame of a responses SSE stream. Only the fields
// relevant to the given Type are populated; SequenceNumber increases by one
// on every frame of a stream, starting at zero.
type ResponseEvent struct {
	Type           string         `json:"type"`
	SequenceNumber int            `json:"sequence_number"`
	Response       *Response      `json:"response,omitempty"`
	OutputIndex    *int           `json:"output_index,omitempty"`
	Item           *OutputMessage `json:"item,omitempty"`
	ItemID         string         `json:"item_id,omitempty"`
	ContentIndex   *int           `json:"content_index,omitempty"`
	Part           *OutputText    `json:"part,omitempty"`
	Delta          *string        `json:"delta,omitempty"`
	Text           *string        `json:"text,omitempty"`
}
