// Package argoproxy implements the translating core of the proxy: the
// client-side request envelope, the per-endpoint shaping rules that rewrite
// OpenAI-shaped bodies into the upstream form, and the runtime
// configuration those rewrites read.
package argoproxy

import (
	"encoding/json"
	"errors"
	"maps"
	"strings"

	"github.com/argonne-lcf/argoproxy/argo"
	"github.com/argonne-lcf/argoproxy/models"
	"github.com/argonne-lcf/argoproxy/openai"
)

// ShapeChat rewrites a chat-completions body into the upstream form: the
// configured user replaces the client's, the model alias resolves to its
// upstream id, tool schemas become a prompt preamble when translation is
// on, and models that reject system messages or streaming get their inputs
// demoted accordingly.
func ShapeChat(req *Request, cfg *Config, reg *models.Registry) (*argo.Payload, error) {
	return shapeChatLike(req, cfg, reg)
}

// ShapeCompletions shapes a legacy completions body. Legacy requests share
// the chat rules; prompt is simply the dominant input.
func ShapeCompletions(req *Request, cfg *Config, reg *models.Registry) (*argo.Payload, error) {
	return shapeChatLike(req, cfg, reg)
}

func shapeChatLike(req *Request, cfg *Config, reg *models.Registry) (*argo.Payload, error) {
	p := newPayload(req, cfg)
	p.Model = reg.Resolve(req.Model, models.KindChat)

	prompt := append([]string(nil), req.Prompt...)
	system := append([]string(nil), req.System...)
	messages := flattenMessages(req.Messages)

	if cfg.TranslateTools && len(req.Tools) > 0 {
		messages = injectToolPrompt(messages, req.Tools)
	}

	// Collapse multiple prompt entries into one before any system
	// prepending so turn order is kept.
	if len(prompt) > 0 {
		prompt = []string{strings.TrimSpace(strings.Join(prompt, "\n\n"))}
	}

	if reg.NoSysMsg(p.Model) {
		for i := range messages {
			if messages[i].Role == openai.RoleSystem {
				messages[i].Role = openai.RoleUser
			}
		}
		if len(system) > 0 {
			prompt = append(append([]string(nil), system...), prompt...)
			system = nil
		}
	}

	applyStreamability(p, req, reg)

	if len(prompt) > 0 {
		prompt = []string{dedupeJoin(prompt)}
	}
	p.Prompt = prompt
	p.System = dedupeJoin(system)
	p.Messages = messages
	return p, nil
}

// ShapeEmbeddings rewrites an embeddings body: input becomes the upstream
// prompt list and the alias resolves against the embedding table.
func ShapeEmbeddings(req *Request, cfg *Config, reg *models.Registry) (*argo.Payload, error) {
	p := newPayload(req, cfg)
	p.Model = reg.Resolve(req.Model, models.KindEmbedding)

	prompt, err := decodeEmbeddingInput(req.Input)
	if err != nil {
		return nil, err
	}
	p.Prompt = prompt
	return p, nil
}

// responsesIncompatibleFields are accepted from clients but stripped before
// forwarding; the upstream chat schema has no counterpart for them.
var responsesIncompatibleFields = []string{
	"include", "metadata", "parallel_tool_calls", "previous_response_id",
	"reasoning", "service_tier", "store", "text", "tool_choice", "tools",
	"truncation",
}

// ShapeResponses rewrites a responses-API body: input becomes the messages
// array, instructions become a leading system message, max_output_tokens
// maps to max_tokens, and fields the upstream cannot express are dropped.
func ShapeResponses(req *Request, cfg *Config, reg *models.Registry) (*argo.Payload, error) {
	p := newPayload(req, cfg)
	p.Model = reg.Resolve(req.Model, models.KindChat)

	messages, err := decodeResponsesInput(req.Input)
	if err != nil {
		return nil, err
	}
	if req.Instructions != "" {
		messages = append([]argo.Message{{Role: openai.RoleSystem, Content: req.Instructions}}, messages...)
	}
	if req.MaxOutputTokens != nil {
		p.MaxTokens = req.MaxOutputTokens
	}
	for _, key := range responsesIncompatibleFields {
		delete(p.Extra, key)
	}

	if reg.NoSysMsg(p.Model) {
		for i := range messages {
			if messages[i].Role == openai.RoleSystem {
				messages[i].Role = openai.RoleUser
			}
		}
	}
	applyStreamability(p, req, reg)

	p.Messages = messages
	return p, nil
}

// newPayload starts an upstream payload from the fields every endpoint
// carries the same way. The configured user always replaces the client's.
func newPayload(req *Request, cfg *Config) *argo.Payload {
	return &argo.Payload{
		User:        cfg.User,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Extra:       maps.Clone(req.Extra),
	}
}

// applyStreamability forwards the client's stream flag, except for models
// the upstream cannot stream, where the flag is forced to an explicit
// false. Callers compare the two to detect fake-stream mode.
func applyStreamability(p *argo.Payload, req *Request, reg *models.Registry) {
	if !reg.Streamable(p.Model) {
		off := false
		p.Stream = &off
		return
	}
	p.Stream = req.Stream
}

func injectToolPrompt(messages []argo.Message, tools []openai.Tool) []argo.Message {
	preamble := openai.BuildToolPrompt(tools)
	for i := range messages {
		if messages[i].Role == openai.RoleSystem {
			messages[i].Content = preamble + messages[i].Content
			return messages
		}
	}
	return append([]argo.Message{{Role: openai.RoleSystem, Content: preamble}}, messages...)
}

func flattenMessages(msgs []openai.Message) []argo.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]argo.Message, len(msgs))
	for i, m := range msgs {
		out[i] = argo.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// dedupeJoin joins entries with blank lines, dropping exact duplicates
// while preserving first-seen order.
func dedupeJoin(entries []string) string {
	if len(entries) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return strings.Join(out, "\n\n")
}

func decodeEmbeddingInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("input is required")
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, errors.New("input must be a string or a list of strings")
	}
	return many, nil
}

func decodeResponsesInput(raw json.RawMessage) ([]argo.Message, error) {
	if len(raw) == 0 {
		return nil, errors.New("input is required")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []argo.Message{{Role: openai.RoleUser, Content: text}}, nil
	}
	var items []openai.Message
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.New("input must be a string or a list of messages")
	}
	return flattenMessages(items), nil
}
